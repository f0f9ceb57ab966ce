package control

import (
	"fmt"
	"math"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

// Params configures a PID. T and TC are in seconds.
type Params struct {
	Gains   dynamo.Gains
	Kaw     float64
	TC      float64
	T       float64
	Min     float64
	Max     float64
	MaxRate float64
}

// Validate checks the invariants Step relies on.
func (p Params) Validate() error {
	switch {
	case !p.Gains.IsValid():
		return &dynamo.ConfigurationError{Field: "gains", Reason: "must be finite and non-negative"}
	case p.Kaw < 0 || math.IsNaN(p.Kaw):
		return &dynamo.ConfigurationError{Field: "kaw", Reason: "must be non-negative"}
	case !(p.T > 0):
		return &dynamo.ConfigurationError{Field: "t", Reason: fmt.Sprintf("sample period must be positive, got %g", p.T)}
	case !(p.TC > 0):
		return &dynamo.ConfigurationError{Field: "t_c", Reason: fmt.Sprintf("filter time constant must be positive, got %g", p.TC)}
	case !(p.T+p.TC > 0):
		return &dynamo.ConfigurationError{Field: "t_c", Reason: "t + t_c must be positive"}
	case math.IsNaN(p.Min) || math.IsNaN(p.Max) || p.Min > p.Max:
		return &dynamo.ConfigurationError{Field: "output", Reason: fmt.Sprintf("min %g exceeds max %g", p.Min, p.Max)}
	case p.MaxRate < 0 || math.IsNaN(p.MaxRate):
		return &dynamo.ConfigurationError{Field: "max_rate", Reason: "must be non-negative"}
	}
	return nil
}

// PID is a discrete controller with back-calculation anti-windup, a
// first-order filtered derivative, output saturation and a slew-rate limit.
// It is not safe for concurrent use.
type PID struct {
	Kp float64
	Ki float64
	Kd float64

	kaw     float64
	tc      float64
	t       float64
	min     float64
	max     float64
	maxRate float64

	integral    float64
	prevErr     float64
	prevDeriv   float64
	prevCommand float64
	prevSat     float64
}

func NewPID(p Params) (*PID, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &PID{
		Kp:      p.Gains.Kp,
		Ki:      p.Gains.Ki,
		Kd:      p.Gains.Kd,
		kaw:     p.Kaw,
		tc:      p.TC,
		t:       p.T,
		min:     p.Min,
		max:     p.Max,
		maxRate: p.MaxRate,
	}, nil
}

// Step advances the controller by one sample period and returns the
// saturated, rate-limited command.
//
// Both the previous command and the previous saturated command start at
// zero, so the first output ramps from zero at most MaxRate*T.
func (p *PID) Step(measurement, setpoint float64) float64 {
	err := setpoint - measurement

	p.integral += p.Ki*err*p.t + p.kaw*(p.prevSat-p.prevCommand)*p.t

	deriv := (err - p.prevErr + p.tc*p.prevDeriv) / (p.t + p.tc)
	p.prevErr = err
	p.prevDeriv = deriv

	command := p.Kp*err + p.integral + p.Kd*deriv
	p.prevCommand = command

	sat := math.Max(p.min, math.Min(p.max, command))

	step := p.maxRate * p.t
	if sat > p.prevSat+step {
		sat = p.prevSat + step
	} else if sat < p.prevSat-step {
		sat = p.prevSat - step
	}

	p.prevSat = sat
	return sat
}

// Gains returns the active gain triple.
func (p *PID) Gains() dynamo.Gains {
	return dynamo.Gains{Kp: p.Kp, Ki: p.Ki, Kd: p.Kd}
}

// SetGains replaces all three gains at once. Running state is kept so the
// output stays continuous across a retune.
func (p *PID) SetGains(g dynamo.Gains) error {
	if !g.IsValid() {
		return &dynamo.ConfigurationError{Field: "gains", Reason: fmt.Sprintf("rejected %v", g)}
	}
	p.Kp, p.Ki, p.Kd = g.Kp, g.Ki, g.Kd
	return nil
}

// Period returns the sample period T in seconds.
func (p *PID) Period() float64 { return p.t }

// Reset clears integral, derivative and rate-limiter state
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.prevDeriv = 0
	p.prevCommand = 0
	p.prevSat = 0
}

// Snapshot is a read-only view of the running state.
type Snapshot struct {
	Integral    float64
	PrevError   float64
	PrevDeriv   float64
	PrevCommand float64
	PrevOutput  float64
}

func (p *PID) State() Snapshot {
	return Snapshot{
		Integral:    p.integral,
		PrevError:   p.prevErr,
		PrevDeriv:   p.prevDeriv,
		PrevCommand: p.prevCommand,
		PrevOutput:  p.prevSat,
	}
}

// GetParams returns tunable parameters for live adjustment
func (p *PID) GetParams() map[string]float64 {
	return map[string]float64{
		"Kp":      p.Kp,
		"Ki":      p.Ki,
		"Kd":      p.Kd,
		"Kaw":     p.kaw,
		"MaxRate": p.maxRate,
	}
}

// SetParam adjusts a PID parameter
func (p *PID) SetParam(name string, value float64) error {
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return &dynamo.ConfigurationError{Field: name, Reason: fmt.Sprintf("rejected %g", value)}
	}
	switch name {
	case "Kp":
		p.Kp = value
	case "Ki":
		p.Ki = value
	case "Kd":
		p.Kd = value
	case "Kaw":
		p.kaw = value
	case "MaxRate":
		p.maxRate = value
	default:
		return fmt.Errorf("%w: %s", dynamo.ErrUnknownParam, name)
	}
	return nil
}
