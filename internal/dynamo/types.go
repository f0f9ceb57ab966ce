package dynamo

import (
	"context"
	"fmt"
	"math"
)

// Channel identifies a sensor input or an actuator output on the rig.
type Channel string

// Gains is the tunable (Kp, Ki, Kd) triple.
type Gains struct {
	Kp float64 `yaml:"kp" json:"kp"`
	Ki float64 `yaml:"ki" json:"ki"`
	Kd float64 `yaml:"kd" json:"kd"`
}

// Vector returns the gains in optimizer order.
func (g Gains) Vector() []float64 {
	return []float64{g.Kp, g.Ki, g.Kd}
}

// GainsFromVector is the inverse of Vector. It panics on a slice that is not of length 3.
func GainsFromVector(v []float64) Gains {
	if len(v) != 3 {
		panic(fmt.Sprintf("dynamo: gain vector of length %d", len(v)))
	}
	return Gains{Kp: v[0], Ki: v[1], Kd: v[2]}
}

func (g Gains) IsValid() bool {
	for _, v := range g.Vector() {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}

func (g Gains) String() string {
	return fmt.Sprintf("Kp=%.4f Ki=%.4f Kd=%.4f", g.Kp, g.Ki, g.Kd)
}

// Record is one row of the control log, written once per tick.
type Record struct {
	Tick        int
	Channel     Channel
	Elapsed     float64
	Measurement float64
	Setpoint    float64
	Command     float64
	Magnitude   float64
	Gains       Gains
	Error       float64
}

// TemperatureSource yields process feedback in degrees Celsius.
type TemperatureSource interface {
	Read(ctx context.Context, ch Channel) (float64, error)
}

// ActuatorSink drives the heating and cooling outputs.
// ShutdownAll must be safe to call more than once.
type ActuatorSink interface {
	Set(ctx context.Context, ch Channel, magnitude float64) error
	ShutdownAll(ctx context.Context) error
}

// DataRecorder persists control records in append-only fashion.
type DataRecorder interface {
	Append(rec Record) error
	Close() error
}

// Observer is notified after every completed tick.
type Observer interface {
	OnTick(rec Record)
}

// Metric accumulates a scalar figure of merit over a run.
type Metric interface {
	Name() string
	Observe(rec Record)
	Value() float64
	Reset()
}

// Configurable exposes named parameters for live adjustment.
type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}
