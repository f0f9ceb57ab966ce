// Package control provides the discrete PID used by the regulator.
//
// [PID] computes a command from (measurement, setpoint) once per sample
// period T. Each step applies, in order: the integral update with
// back-calculation anti-windup (gain Kaw), a one-pole filtered derivative
// (time constant T_C), saturation to [Min, Max] and a slew-rate limit of
// MaxRate*T per step.
//
// # Usage
//
//	pid, err := control.NewPID(control.Params{
//		Gains: dynamo.Gains{Kp: 0.5, Ki: 0.1, Kd: 0.01},
//		Kaw: 0.01, TC: 1, T: 0.1, Min: 0, Max: 10, MaxRate: 0.5,
//	})
//	u := pid.Step(measured, 50.0)
//
// PID implements [dynamo.Configurable] for live tuning.
package control
