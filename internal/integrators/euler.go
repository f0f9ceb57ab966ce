package integrators

type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(sys System, x, u []float64, t float64, dt float64) []float64 {
	dx := sys.Derive(x, u, t)
	result := make([]float64, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result
}
