package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ESiegman/Thermo-PID/internal/control"
	"github.com/ESiegman/Thermo-PID/internal/dynamo"
	"github.com/ESiegman/Thermo-PID/internal/optim"
)

type State int

const (
	StateInit State = iota
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateTerminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type StopReason string

const (
	ReasonCanceled StopReason = "canceled"
	ReasonDuration StopReason = "duration"
	ReasonFault    StopReason = "fault"
)

type Config struct {
	Setpoint  float64
	Interval  time.Duration
	Duration  time.Duration // 0 runs until canceled
	IOTimeout time.Duration

	Feedback dynamo.Channel
	Heat     dynamo.Channel
	Cool     dynamo.Channel

	HistoryCapacity int
	MinHistory      int
	TuneWindow      time.Duration
}

func (c Config) validate() error {
	if math.IsNaN(c.Setpoint) || math.IsInf(c.Setpoint, 0) {
		return &dynamo.ConfigurationError{Field: "setpoint", Reason: "must be finite"}
	}
	if c.Interval <= 0 {
		return &dynamo.ConfigurationError{Field: "interval", Reason: "must be positive"}
	}
	if c.IOTimeout <= 0 {
		return &dynamo.ConfigurationError{Field: "io_timeout", Reason: "must be positive"}
	}
	if c.Duration < 0 {
		return &dynamo.ConfigurationError{Field: "duration", Reason: "must not be negative"}
	}
	if c.Feedback == "" || c.Heat == "" || c.Cool == "" || c.Heat == c.Cool {
		return &dynamo.ConfigurationError{Field: "channels", Reason: "feedback, heat and cool must be named and heat must differ from cool"}
	}
	if c.TuneWindow <= 0 {
		return &dynamo.ConfigurationError{Field: "tuning.window", Reason: "must be positive"}
	}
	return nil
}

// Result summarises a finished run.
type Result struct {
	State         State
	Reason        StopReason
	Ticks         int
	Tunings       int
	FailedTunings int
	InitialGains  dynamo.Gains
	FinalGains    dynamo.Gains
	Elapsed       time.Duration
	Metrics       map[string]float64
}

// ObserverFunc adapts a function to dynamo.Observer.
type ObserverFunc func(rec dynamo.Record)

func (f ObserverFunc) OnTick(rec dynamo.Record) { f(rec) }

// Loop runs one regulator: read, step, actuate, record, retune.
// A Loop is single-use.
type Loop struct {
	cfg       Config
	pid       *control.PID
	history   *optim.History
	optimizer *optim.Optimizer
	src       dynamo.TemperatureSource
	act       dynamo.ActuatorSink
	rec       dynamo.DataRecorder
	metrics   []dynamo.Metric
	observers []dynamo.Observer
	logger    *slog.Logger
	clock     Clock

	state         State
	ticks         int
	tunings       int
	failedTunings int
	start         time.Time
}

func New(cfg Config, pid *control.PID, src dynamo.TemperatureSource, act dynamo.ActuatorSink, rec dynamo.DataRecorder) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if pid == nil || src == nil || act == nil || rec == nil {
		return nil, errors.New("loop: controller, source, actuator and recorder are required")
	}
	return &Loop{
		cfg:     cfg,
		pid:     pid,
		history: optim.NewHistory(cfg.HistoryCapacity),
		src:     src,
		act:     act,
		rec:     rec,
		logger:  slog.New(slog.DiscardHandler),
		clock:   WallClock(),
	}, nil
}

func (l *Loop) AddMetric(m dynamo.Metric)     { l.metrics = append(l.metrics, m) }
func (l *Loop) AddObserver(o dynamo.Observer) { l.observers = append(l.observers, o) }

// SetOptimizer enables periodic retuning; nil disables it.
func (l *Loop) SetOptimizer(o *optim.Optimizer) { l.optimizer = o }

// SetLogger sets the loop logger; nil discards output.
func (l *Loop) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l.logger = logger.With("component", "loop")
}

func (l *Loop) SetClock(c Clock) { l.clock = c }

func (l *Loop) State() State { return l.state }

// History exposes the error ring buffer.
func (l *Loop) History() *optim.History { return l.history }

// Run drives the loop until ctx is canceled, the configured duration
// elapses, or a fatal error occurs. Every exit path switches all actuator
// outputs off exactly once and closes the recorder. A nil error means a
// graceful stop.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	if l.state != StateInit {
		return nil, errors.New("loop: already run")
	}
	l.start = l.clock.Now()
	initial := l.pid.Gains()
	for _, m := range l.metrics {
		m.Reset()
	}
	l.logger.Info("loop starting",
		"setpoint", l.cfg.Setpoint,
		"interval", l.cfg.Interval,
		"gains", initial.String(),
		"tuning", l.optimizer != nil)

	l.transition(StateRunning)
	reason, runErr := l.run(ctx)

	l.transition(StateStopping)
	if runErr != nil {
		l.logger.Error("fatal error, stopping", "tick", l.ticks, "err", runErr)
	}
	shutdownErr := shutdownAll(ctx, l.act, l.cfg.IOTimeout, l.logger)
	var closeErr error
	if err := l.rec.Close(); err != nil {
		closeErr = &dynamo.RecordError{Tick: l.ticks, Err: err}
		l.logger.Error("recorder close failed", "err", err)
	}
	l.transition(StateTerminated)

	res := &Result{
		State:         l.state,
		Reason:        reason,
		Ticks:         l.ticks,
		Tunings:       l.tunings,
		FailedTunings: l.failedTunings,
		InitialGains:  initial,
		FinalGains:    l.pid.Gains(),
		Elapsed:       l.clock.Now().Sub(l.start),
		Metrics:       make(map[string]float64, len(l.metrics)),
	}
	for _, m := range l.metrics {
		res.Metrics[m.Name()] = m.Value()
	}

	err := errors.Join(runErr, shutdownErr, closeErr)
	if err != nil {
		res.Reason = ReasonFault
	}
	l.logger.Info("loop stopped", "reason", res.Reason, "ticks", res.Ticks, "tunings", res.Tunings)
	return res, err
}

func (l *Loop) run(ctx context.Context) (StopReason, error) {
	deadline := l.start
	for {
		if ctx.Err() != nil {
			return ReasonCanceled, nil
		}
		elapsed := l.clock.Now().Sub(l.start)
		if l.cfg.Duration > 0 && elapsed >= l.cfg.Duration {
			return ReasonDuration, nil
		}

		if err := l.tick(ctx, elapsed); err != nil {
			return ReasonFault, err
		}

		deadline = deadline.Add(l.cfg.Interval)
		if now := l.clock.Now(); now.After(deadline) {
			l.logger.Debug("tick overran cadence", "tick", l.ticks-1, "late", now.Sub(deadline))
			deadline = now
		}
		if err := l.clock.SleepUntil(ctx, deadline); err != nil {
			return ReasonCanceled, nil
		}
	}
}

// tick performs one control step. Collaborator calls run on a context
// detached from ctx so an operator cancel never interrupts actuation.
func (l *Loop) tick(ctx context.Context, elapsed time.Duration) error {
	n := l.ticks
	ioCtx := context.WithoutCancel(ctx)

	measurement, err := readFeedback(ioCtx, l.src, l.cfg.Feedback, l.cfg.IOTimeout)
	if err != nil {
		return &dynamo.SensorReadError{Channel: l.cfg.Feedback, Tick: n, Err: err}
	}

	command := l.pid.Step(measurement, l.cfg.Setpoint)
	ch, magnitude := l.route(command)
	if err := drive(ioCtx, l.act, ch, magnitude, l.cfg.IOTimeout); err != nil {
		return &dynamo.ActuatorWriteError{Channel: ch, Tick: n, Magnitude: magnitude, Err: err}
	}

	e := l.cfg.Setpoint - measurement
	rec := dynamo.Record{
		Tick:        n,
		Channel:     ch,
		Elapsed:     elapsed.Seconds(),
		Measurement: measurement,
		Setpoint:    l.cfg.Setpoint,
		Command:     command,
		Magnitude:   magnitude,
		Gains:       l.pid.Gains(),
		Error:       e,
	}
	if err := l.rec.Append(rec); err != nil {
		return &dynamo.RecordError{Tick: n, Err: err}
	}
	l.history.Push(e)
	l.ticks++

	l.logger.Debug("tick",
		"tick", n,
		"temp", measurement,
		"command", command,
		"channel", ch,
		"gains", rec.Gains.String(),
		"error", e)
	for _, m := range l.metrics {
		m.Observe(rec)
	}
	for _, o := range l.observers {
		o.OnTick(rec)
	}

	if l.optimizer != nil && ShouldOptimize(elapsed, l.history.Len(), l.cfg.MinHistory, l.cfg.TuneWindow, l.cfg.Interval) {
		l.retune(ioCtx, n)
	}
	return nil
}

// route maps a signed command onto the heat or cool output.
func (l *Loop) route(command float64) (dynamo.Channel, float64) {
	if command > 0 {
		return l.cfg.Heat, command
	}
	return l.cfg.Cool, math.Abs(command)
}

// ErrIOTimeout reports a collaborator call that did not return within the
// I/O timeout. The call may still be running when this is returned.
var ErrIOTimeout = errors.New("loop: i/o timeout")

type outcome[T any] struct {
	v   T
	err error
}

// bounded runs fn on its own goroutine and gives up when ctx expires, so a
// collaborator that ignores ctx cannot stall the loop. The result channel
// is buffered and a late return does not block.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome[T]{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w after %v: %w", ErrIOTimeout, timeout, ctx.Err())
		}
		return r.v, r.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%w after %v: %w", ErrIOTimeout, timeout, ctx.Err())
	}
}

func readFeedback(ctx context.Context, src dynamo.TemperatureSource, ch dynamo.Channel, timeout time.Duration) (float64, error) {
	v, err := bounded(ctx, timeout, func(ctx context.Context) (float64, error) {
		return src.Read(ctx, ch)
	})
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite reading %v", v)
	}
	return v, nil
}

func drive(ctx context.Context, act dynamo.ActuatorSink, ch dynamo.Channel, magnitude float64, timeout time.Duration) error {
	_, err := bounded(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, act.Set(ctx, ch, magnitude)
	})
	return err
}

func shutdownAll(ctx context.Context, act dynamo.ActuatorSink, timeout time.Duration, logger *slog.Logger) error {
	_, err := bounded(context.WithoutCancel(ctx), timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, act.ShutdownAll(ctx)
	})
	if err != nil {
		logger.Error("actuator shutdown failed, output state unknown", "err", err)
		return fmt.Errorf("shutdown actuators: %w", err)
	}
	logger.Info("actuators off")
	return nil
}

// retune replaces the gains on success and keeps them otherwise.
func (l *Loop) retune(ctx context.Context, tick int) {
	seed := l.pid.Gains()
	res, err := l.optimizer.Optimize(ctx, seed, l.history.AsTemperatureSeries(l.cfg.Setpoint), l.cfg.Setpoint)
	if err == nil {
		err = l.pid.SetGains(res.Gains)
	}
	if err != nil {
		l.failedTunings++
		oe := &dynamo.OptimizationError{Tick: tick, Err: err}
		l.logger.Warn("retune failed, keeping gains", "tick", tick, "gains", seed.String(), "err", oe)
		return
	}
	l.tunings++
	l.logger.Info("gains retuned",
		"tick", tick,
		"gains", res.Gains.String(),
		"cost", res.Cost,
		"evaluations", res.Evaluations,
		"status", res.Status,
		"runtime", res.Runtime)
}

func (l *Loop) transition(to State) {
	l.logger.Debug("state", "from", l.state.String(), "to", to.String())
	l.state = to
}
