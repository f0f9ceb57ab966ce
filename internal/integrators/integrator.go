package integrators

import "fmt"

// System is a controlled ODE dx/dt = f(x, u, t).
type System interface {
	Derive(x, u []float64, t float64) []float64
}

type Integrator interface {
	Step(sys System, x, u []float64, t, dt float64) []float64
}

// New returns a fixed-step integrator by name.
func New(name string) (Integrator, error) {
	switch name {
	case "", "rk4":
		return NewRK4(), nil
	case "euler":
		return NewEuler(), nil
	case "rk45":
		return NewRK45(), nil
	default:
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
}
