package optim

import (
	"context"
	"math"
)

// GridSearch evaluates an objective on the cartesian product of per-parameter
// value ranges and keeps the lowest score.
type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	maxEvals   int
	evals      int
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges}
}

// Linspace returns n evenly spaced values covering [lo, hi].
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 1 || lo == hi {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + step*float64(i)
	}
	out[n-1] = hi
	return out
}

// WithMaxEvaluations stops the search after n objective calls; 0 means no limit.
func (g *GridSearch) WithMaxEvaluations(n int) *GridSearch {
	g.maxEvals = n
	return g
}

// Evaluations reports how many objective calls the last search made.
func (g *GridSearch) Evaluations() int { return g.evals }

func (g *GridSearch) Search(
	ctx context.Context,
	objective func(params map[string]float64) (float64, error),
) (map[string]float64, float64, error) {

	best := math.Inf(1)
	var bestParams map[string]float64
	g.evals = 0

	err := g.searchRecursive(ctx, 0, make(map[string]float64), objective, &best, &bestParams)
	if err == errBudget {
		err = nil
	}

	return bestParams, best, err
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	objective func(map[string]float64) (float64, error),
	best *float64,
	bestParams *map[string]float64,
) error {
	if depth == len(g.paramNames) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if g.maxEvals > 0 && g.evals >= g.maxEvals {
			return errBudget
		}
		g.evals++

		val, err := objective(current)
		if err != nil {
			return nil
		}

		if val < *best {
			*best = val
			*bestParams = make(map[string]float64)
			for k, v := range current {
				(*bestParams)[k] = v
			}
		}
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, objective, best, bestParams); err != nil {
			return err
		}
	}
	return nil
}
