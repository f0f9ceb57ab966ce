// Package dynamo provides the shared primitives of the regulator.
//
// It defines the types that cross package boundaries and the contracts of
// the collaborators the control loop drives:
//
//   - [Gains]: the tunable (Kp, Ki, Kd) triple
//   - [Record]: one control-log row per tick
//   - [TemperatureSource]: process feedback
//   - [ActuatorSink]: heating/cooling outputs with a fail-safe ShutdownAll
//   - [DataRecorder]: append-only control log
//
// # Errors
//
// Every failure the loop can observe is typed. [SensorReadError],
// [ActuatorWriteError], [RecordError] and [ConfigurationError] are fatal;
// [OptimizationError] is recovered by keeping the previous gains. Each type
// matches its sentinel with errors.Is:
//
//	if errors.Is(err, dynamo.ErrSensorRead) {
//		// no valid feedback
//	}
package dynamo
