package integrators

import (
	"math"
	"testing"
)

// stiffer lag with a time constant of 0.05 s
type fastLag struct{}

func (f *fastLag) Derive(x, u []float64, t float64) []float64 {
	return []float64{(u[0] - x[0]) / 0.05}
}

func TestRK45CoversWholeInterval(t *testing.T) {
	integ := NewRK45()
	x := []float64{0.0}
	u := []float64{1.0}

	// one call spanning ten time constants
	x = integ.Step(&fastLag{}, x, u, 0, 0.5)

	expected := 1 - math.Exp(-10)
	if math.Abs(x[0]-expected) > 1e-4 {
		t.Errorf("got %.8f, expected %.8f", x[0], expected)
	}
}

func TestRK45MatchesLag(t *testing.T) {
	integ := NewRK45()
	x := []float64{0.0}
	u := []float64{1.0}
	dt := 0.5
	for i := 0; i < 4; i++ {
		x = integ.Step(&lag{}, x, u, float64(i)*dt, dt)
	}

	expected := 1 - math.Exp(-2)
	if math.Abs(x[0]-expected) > 1e-5 {
		t.Errorf("got %.8f, expected %.8f", x[0], expected)
	}
	if integ.h <= 0 {
		t.Errorf("expected a remembered step size, got %f", integ.h)
	}
}

func TestRK45AttemptShrinksOnLargeError(t *testing.T) {
	integ := NewRK45()
	integ.Tol = 1e-10

	_, errRatio, next := integ.attempt(&fastLag{}, []float64{0}, []float64{1}, 0, 0.2)
	if errRatio <= 1 {
		t.Fatalf("expected rejected trial step, error ratio %f", errRatio)
	}
	if next >= 0.2 {
		t.Errorf("expected smaller next step, got %f", next)
	}
}
