package integrators

// RK4 is the classic fourth-order Runge-Kutta stepper. Scratch buffers are
// reused between steps, so an RK4 must not be shared across goroutines.
type RK4 struct {
	k1, k2, k3, k4 []float64
	scratch        []float64
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.k1 = make([]float64, n)
		r.k2 = make([]float64, n)
		r.k3 = make([]float64, n)
		r.k4 = make([]float64, n)
		r.scratch = make([]float64, n)
	}
}

func (r *RK4) Step(sys System, x, u []float64, t, dt float64) []float64 {
	n := len(x)
	r.ensureScratch(n)

	copy(r.k1, sys.Derive(x, u, t))

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k1[i]
	}
	copy(r.k2, sys.Derive(r.scratch, u, t+dt*0.5))

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k2[i]
	}
	copy(r.k3, sys.Derive(r.scratch, u, t+dt*0.5))

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*r.k3[i]
	}
	copy(r.k4, sys.Derive(r.scratch, u, t+dt))

	result := make([]float64, n)
	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		result[i] = x[i] + dt6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i])
	}

	return result
}
