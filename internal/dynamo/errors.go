package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for regulator operations.
var (
	// ErrSensorRead indicates no valid feedback could be obtained.
	ErrSensorRead = errors.New("dynamo: sensor read failed")

	// ErrActuatorWrite indicates an actuator command may not have taken effect.
	ErrActuatorWrite = errors.New("dynamo: actuator write failed")

	// ErrOptimization indicates a gain retune was abandoned.
	ErrOptimization = errors.New("dynamo: gain optimization failed")

	// ErrConfiguration indicates invalid bounds, periods or gains at startup.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrRecord indicates the control log could not be written.
	ErrRecord = errors.New("dynamo: record write failed")

	// ErrUnknownParam indicates a SetParam call for a name the target does not expose.
	ErrUnknownParam = errors.New("dynamo: unknown parameter")
)

// SensorReadError wraps a feedback failure with loop context.
type SensorReadError struct {
	Channel Channel
	Tick    int
	Err     error
}

func (e *SensorReadError) Error() string {
	return fmt.Sprintf("sensor read on %s at tick %d: %v", e.Channel, e.Tick, e.Err)
}

func (e *SensorReadError) Unwrap() error        { return e.Err }
func (e *SensorReadError) Is(target error) bool { return target == ErrSensorRead }

// ActuatorWriteError wraps an output failure with loop context.
type ActuatorWriteError struct {
	Channel   Channel
	Tick      int
	Magnitude float64
	Err       error
}

func (e *ActuatorWriteError) Error() string {
	return fmt.Sprintf("actuator write %.4f on %s at tick %d: %v", e.Magnitude, e.Channel, e.Tick, e.Err)
}

func (e *ActuatorWriteError) Unwrap() error        { return e.Err }
func (e *ActuatorWriteError) Is(target error) bool { return target == ErrActuatorWrite }

// OptimizationError is recoverable: the loop keeps the previous gains.
type OptimizationError struct {
	Tick int
	Err  error
}

func (e *OptimizationError) Error() string {
	return fmt.Sprintf("gain optimization at tick %d: %v", e.Tick, e.Err)
}

func (e *OptimizationError) Unwrap() error        { return e.Err }
func (e *OptimizationError) Is(target error) bool { return target == ErrOptimization }

// ConfigurationError names the offending field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// RecordError wraps a recorder failure.
type RecordError struct {
	Tick int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record at tick %d: %v", e.Tick, e.Err)
}

func (e *RecordError) Unwrap() error        { return e.Err }
func (e *RecordError) Is(target error) bool { return target == ErrRecord }

// IsFatal reports whether err must stop the control loop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrOptimization)
}
