package metrics

import (
	"math"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

// IAE integrates |error| over elapsed time.
type IAE struct {
	integral
}

func NewIAE() *IAE {
	return &IAE{integral{name: "iae", f: math.Abs}}
}

// ISE integrates error² over elapsed time.
type ISE struct {
	integral
}

func NewISE() *ISE {
	return &ISE{integral{name: "ise", f: func(e float64) float64 { return e * e }}}
}

type integral struct {
	name    string
	f       func(float64) float64
	sum     float64
	last    float64
	started bool
}

func (i *integral) Name() string { return i.name }

// Observe uses a left-rectangle rule between consecutive records.
func (i *integral) Observe(rec dynamo.Record) {
	if i.started {
		i.sum += i.f(rec.Error) * (rec.Elapsed - i.last)
	}
	i.last = rec.Elapsed
	i.started = true
}

func (i *integral) Value() float64 { return i.sum }

func (i *integral) Reset() {
	i.sum = 0
	i.last = 0
	i.started = false
}

// Overshoot is the largest excursion of the measurement beyond the setpoint
// in the direction of the initial approach.
type Overshoot struct {
	name    string
	dir     float64
	max     float64
	started bool
}

func NewOvershoot() *Overshoot {
	return &Overshoot{name: "overshoot"}
}

func (o *Overshoot) Name() string { return o.name }

func (o *Overshoot) Observe(rec dynamo.Record) {
	if !o.started {
		o.dir = 1
		if rec.Measurement > rec.Setpoint {
			o.dir = -1
		}
		o.started = true
	}
	if past := o.dir * (rec.Measurement - rec.Setpoint); past > o.max {
		o.max = past
	}
}

func (o *Overshoot) Value() float64 { return o.max }

func (o *Overshoot) Reset() {
	o.dir = 0
	o.max = 0
	o.started = false
}

// Standard returns the metric set attached to every run.
func Standard() []dynamo.Metric {
	return []dynamo.Metric{
		NewIAE(),
		NewISE(),
		NewControlEffort(),
		NewOvershoot(),
		NewInBand(0.5),
	}
}
