package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

var (
	ErrBounds       = errors.New("optim: malformed bounds")
	ErrEmptyHistory = errors.New("optim: empty temperature history")
	ErrNonFinite    = errors.New("optim: non-finite cost or result")
	ErrMethod       = errors.New("optim: unknown method")

	errBudget = errors.New("optim: evaluation budget exhausted")
)

type Method string

const (
	MethodLBFGS Method = "lbfgs"
	MethodGrid  Method = "grid"
)

// GainNames is the parameter order of every gain vector.
var GainNames = []string{"Kp", "Ki", "Kd"}

// Settings bounds both the search space and the work spent per retune.
type Settings struct {
	Method         Method
	Bounds         [][2]float64
	MaxIterations  int
	MaxEvaluations int
	Runtime        time.Duration
	GridSteps      int
}

func DefaultSettings() Settings {
	return Settings{
		Method:         MethodLBFGS,
		Bounds:         [][2]float64{{0, 10}, {0, 10}, {0, 10}},
		MaxIterations:  100,
		MaxEvaluations: 1000,
		Runtime:        200 * time.Millisecond,
		GridSteps:      5,
	}
}

func (s Settings) Validate() error {
	if len(s.Bounds) != len(GainNames) {
		return fmt.Errorf("%w: want %d pairs, got %d", ErrBounds, len(GainNames), len(s.Bounds))
	}
	for i, b := range s.Bounds {
		if math.IsNaN(b[0]) || math.IsNaN(b[1]) || math.IsInf(b[0], 0) || math.IsInf(b[1], 0) || b[0] > b[1] {
			return fmt.Errorf("%w: %s in [%g, %g]", ErrBounds, GainNames[i], b[0], b[1])
		}
	}
	switch s.Method {
	case MethodLBFGS, MethodGrid:
	default:
		return fmt.Errorf("%w: %q", ErrMethod, s.Method)
	}
	if s.MaxIterations < 0 || s.MaxEvaluations < 0 || s.Runtime < 0 || s.GridSteps < 0 {
		return fmt.Errorf("%w: negative budget", ErrBounds)
	}
	return nil
}

// Cost scores a candidate gain vector against a temperature history.
type Cost func(gains, temps []float64, setpoint float64) float64

// TrackingCost is the sum of squared tracking errors over the history. The
// candidate gains do not enter the sum, so every candidate scores the same
// and a minimizer stays at its starting point.
func TrackingCost(_ []float64, temps []float64, setpoint float64) float64 {
	total := 0.0
	for _, temp := range temps {
		e := setpoint - temp
		total += e * e
	}
	return total
}

// Result describes one retune.
type Result struct {
	Gains       dynamo.Gains
	Cost        float64
	Evaluations int
	Status      string
	Runtime     time.Duration
}

// Optimizer searches the gain box for the triple minimising a Cost.
type Optimizer struct {
	settings Settings
	cost     Cost
}

func New(s Settings) (*Optimizer, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Optimizer{settings: s, cost: TrackingCost}, nil
}

// WithCost swaps the objective.
func (o *Optimizer) WithCost(c Cost) *Optimizer {
	o.cost = c
	return o
}

func (o *Optimizer) Settings() Settings { return o.settings }

// Optimize returns a gain triple inside the bounds. The budget in Settings
// caps iterations, objective evaluations and wall-clock time; running out
// of budget yields the best point found, not an error.
func (o *Optimizer) Optimize(ctx context.Context, initial dynamo.Gains, temps []float64, setpoint float64) (Result, error) {
	if err := o.settings.Validate(); err != nil {
		return Result{}, err
	}
	if len(temps) == 0 {
		return Result{}, ErrEmptyHistory
	}

	x0 := o.project(initial.Vector())
	if !allFinite(x0) {
		return Result{}, fmt.Errorf("%w: initial gains %v", ErrNonFinite, initial)
	}
	f0 := o.cost(x0, temps, setpoint)
	if math.IsNaN(f0) || math.IsInf(f0, 0) {
		return Result{}, fmt.Errorf("%w: cost %g at initial gains", ErrNonFinite, f0)
	}

	start := time.Now()
	var (
		res Result
		err error
	)
	switch o.settings.Method {
	case MethodGrid:
		res, err = o.grid(ctx, x0, f0, temps, setpoint)
	default:
		res, err = o.lbfgs(ctx, x0, temps, setpoint)
	}
	if err != nil {
		return Result{}, err
	}
	res.Runtime = time.Since(start)
	return res, nil
}

// lbfgs enforces the evaluation and runtime budgets itself after every
// evaluation, counting finite-difference probes, since gonum only checks
// runtime between major iterations. The lowest point evaluated is kept so
// a search cut short still returns its best-so-far gains.
func (o *Optimizer) lbfgs(ctx context.Context, x0, temps []float64, setpoint float64) (Result, error) {
	var evals atomic.Int64
	bestX, bestF := x0, math.Inf(1)
	f := func(x []float64) float64 {
		evals.Add(1)
		px := o.project(x)
		v := o.cost(px, temps, setpoint)
		if v < bestF {
			bestX, bestF = px, v
		}
		return v
	}
	var deadline time.Time
	if o.settings.Runtime > 0 {
		deadline = time.Now().Add(o.settings.Runtime)
	}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, nil)
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			if o.settings.MaxEvaluations > 0 && evals.Load() >= int64(o.settings.MaxEvaluations) {
				return optimize.FunctionEvaluationLimit, nil
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return optimize.RuntimeLimit, nil
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations: o.settings.MaxIterations,
		FuncEvaluations: o.settings.MaxEvaluations,
		Runtime:         o.settings.Runtime,
	}

	result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if err != nil && (result == nil || !budgetExhausted(result.Status)) {
		return Result{}, fmt.Errorf("optim: lbfgs: %w", err)
	}
	if result.Status == optimize.Failure {
		return Result{}, fmt.Errorf("optim: lbfgs terminated with %v", result.Status)
	}

	x, fx := o.project(result.X), result.F
	if !(fx <= bestF) {
		x, fx = bestX, bestF
	}
	if !allFinite(x) || math.IsNaN(fx) || math.IsInf(fx, 0) {
		return Result{}, fmt.Errorf("%w: lbfgs returned %v", ErrNonFinite, result.X)
	}
	return Result{
		Gains:       dynamo.GainsFromVector(x),
		Cost:        fx,
		Evaluations: int(evals.Load()),
		Status:      result.Status.String(),
	}, nil
}

// grid keeps the seed unless a grid point scores strictly lower.
func (o *Optimizer) grid(ctx context.Context, x0 []float64, f0 float64, temps []float64, setpoint float64) (Result, error) {
	steps := o.settings.GridSteps
	if steps == 0 {
		steps = DefaultSettings().GridSteps
	}
	ranges := make([][]float64, len(GainNames))
	for i, b := range o.settings.Bounds {
		ranges[i] = Linspace(b[0], b[1], steps)
	}

	deadline := time.Now().Add(o.settings.Runtime)
	if o.settings.Runtime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	gs := NewGridSearch(GainNames, ranges).WithMaxEvaluations(o.settings.MaxEvaluations)
	params, best, err := gs.Search(ctx, func(p map[string]float64) (float64, error) {
		x := []float64{p["Kp"], p["Ki"], p["Kd"]}
		v := o.cost(x, temps, setpoint)
		if math.IsNaN(v) {
			return 0, ErrNonFinite
		}
		return v, nil
	})
	status := "grid exhausted"
	if errors.Is(err, context.DeadlineExceeded) && o.settings.Runtime > 0 {
		status = "runtime limit"
	} else if err != nil {
		return Result{}, fmt.Errorf("optim: grid: %w", err)
	}

	x, f := x0, f0
	if params != nil && best < f0 {
		x = []float64{params["Kp"], params["Ki"], params["Kd"]}
		f = best
	}
	return Result{
		Gains:       dynamo.GainsFromVector(x),
		Cost:        f,
		Evaluations: gs.Evaluations() + 1,
		Status:      status,
	}, nil
}

func (o *Optimizer) project(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(o.settings.Bounds[i][0], math.Min(o.settings.Bounds[i][1], v))
	}
	return out
}

func budgetExhausted(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.RuntimeLimit, optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit:
		return true
	}
	return false
}

func allFinite(x []float64) bool {
	return !floats.HasNaN(x) && !math.IsInf(floats.Max(x), 1) && !math.IsInf(floats.Min(x), -1)
}
