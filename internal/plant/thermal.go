package plant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
	"github.com/ESiegman/Thermo-PID/internal/integrators"
)

var (
	ErrUnknownChannel = errors.New("plant: unknown channel")
	ErrInjectedFault  = errors.New("plant: injected fault")
	ErrBadMagnitude   = errors.New("plant: magnitude must be finite and non-negative")
)

const (
	DefaultAmbient      = 22.0
	DefaultTimeConstant = 40.0
	DefaultHeatGain     = 6.0
	DefaultCoolGain     = 3.0
)

// Params describes a lumped first-order thermal mass. HeatGain and CoolGain
// are the steady-state temperature rise (or drop) per unit of drive.
type Params struct {
	Initial      float64
	Ambient      float64
	TimeConstant float64
	HeatGain     float64
	CoolGain     float64
	Noise        float64
	Seed         int64
	Period       time.Duration
	Substeps     int
	Integrator   string

	Feedback dynamo.Channel
	Heat     dynamo.Channel
	Cool     dynamo.Channel

	// FailAfter makes every read after the n-th fail; 0 disables.
	FailAfter int
	// FailWrites makes every Set fail.
	FailWrites bool
}

func DefaultParams() Params {
	return Params{
		Initial:      DefaultAmbient,
		Ambient:      DefaultAmbient,
		TimeConstant: DefaultTimeConstant,
		HeatGain:     DefaultHeatGain,
		CoolGain:     DefaultCoolGain,
		Seed:         1,
		Period:       500 * time.Millisecond,
		Substeps:     10,
		Integrator:   "rk4",
		Feedback:     "temperature",
		Heat:         "CH2",
		Cool:         "CH1",
	}
}

// Thermal simulates the heated block. Each Read advances the model by one
// Period under the outputs currently applied, so a run is reproducible
// regardless of wall-clock jitter. It satisfies both dynamo.TemperatureSource
// and dynamo.ActuatorSink.
type Thermal struct {
	mu    sync.Mutex
	p     Params
	integ integrators.Integrator
	rng   *rand.Rand

	temp      float64
	t         float64
	heat      float64
	cool      float64
	reads     int
	shutdowns int
}

func NewThermal(p Params) (*Thermal, error) {
	if !(p.TimeConstant > 0) {
		return nil, &dynamo.ConfigurationError{Field: "plant.time_constant", Reason: "must be positive"}
	}
	if p.Period <= 0 {
		return nil, &dynamo.ConfigurationError{Field: "plant.period", Reason: "must be positive"}
	}
	if p.Substeps <= 0 {
		p.Substeps = 1
	}
	integ, err := integrators.New(p.Integrator)
	if err != nil {
		return nil, &dynamo.ConfigurationError{Field: "plant.integrator", Reason: err.Error()}
	}
	return &Thermal{
		p:     p,
		integ: integ,
		rng:   rand.New(rand.NewSource(p.Seed)),
		temp:  p.Initial,
	}, nil
}

// Derive implements integrators.System with x = [T] and u = [heat, cool].
func (th *Thermal) Derive(x, u []float64, t float64) []float64 {
	drive := th.p.HeatGain*u[0] - th.p.CoolGain*u[1]
	return []float64{(drive - (x[0] - th.p.Ambient)) / th.p.TimeConstant}
}

func (th *Thermal) Read(ctx context.Context, ch dynamo.Channel) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	th.mu.Lock()
	defer th.mu.Unlock()

	if ch != th.p.Feedback {
		return 0, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	th.reads++
	if th.p.FailAfter > 0 && th.reads > th.p.FailAfter {
		return 0, fmt.Errorf("%w: read %d", ErrInjectedFault, th.reads)
	}

	th.advance(th.p.Period.Seconds())

	reading := th.temp
	if th.p.Noise > 0 {
		reading += th.rng.NormFloat64() * th.p.Noise
	}
	return reading, nil
}

func (th *Thermal) advance(span float64) {
	dt := span / float64(th.p.Substeps)
	x := []float64{th.temp}
	u := []float64{th.heat, th.cool}
	for i := 0; i < th.p.Substeps; i++ {
		x = th.integ.Step(th, x, u, th.t, dt)
		th.t += dt
	}
	th.temp = x[0]
}

// Set drives one channel. Heat and cool are mutually exclusive: driving one
// switches the other off first.
func (th *Thermal) Set(ctx context.Context, ch dynamo.Channel, magnitude float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if magnitude < 0 || math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return fmt.Errorf("%w: %g", ErrBadMagnitude, magnitude)
	}
	th.mu.Lock()
	defer th.mu.Unlock()

	if th.p.FailWrites {
		return fmt.Errorf("%w: write to %s", ErrInjectedFault, ch)
	}
	switch ch {
	case th.p.Heat:
		th.cool = 0
		th.heat = magnitude
	case th.p.Cool:
		th.heat = 0
		th.cool = magnitude
	default:
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	return nil
}

func (th *Thermal) ShutdownAll(ctx context.Context) error {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.heat = 0
	th.cool = 0
	th.shutdowns++
	return nil
}

// Temperature returns the noise-free block temperature.
func (th *Thermal) Temperature() float64 {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.temp
}

// Outputs returns the applied (heat, cool) drive.
func (th *Thermal) Outputs() (float64, float64) {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.heat, th.cool
}

// Shutdowns counts ShutdownAll calls.
func (th *Thermal) Shutdowns() int {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.shutdowns
}

// Elapsed returns simulated seconds.
func (th *Thermal) Elapsed() float64 {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.t
}
