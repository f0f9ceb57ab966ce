package loop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

// OscillationConfig describes an open-loop characterisation run: the
// outputs alternate between a cooling and a heating half-cycle at fixed
// levels while the feedback is sampled. The recorded response gives the
// plant's lag and gain without a controller in the way.
type OscillationConfig struct {
	Cycles     int
	HalfPeriod time.Duration
	Sample     time.Duration
	HeatLevel  float64
	CoolLevel  float64
	IOTimeout  time.Duration
	// Setpoint is only the reference for the error column.
	Setpoint float64

	Feedback dynamo.Channel
	Heat     dynamo.Channel
	Cool     dynamo.Channel
}

type Oscillator struct {
	cfg       OscillationConfig
	src       dynamo.TemperatureSource
	act       dynamo.ActuatorSink
	rec       dynamo.DataRecorder
	observers []dynamo.Observer
	logger    *slog.Logger
	clock     Clock
	ran       bool
}

func NewOscillator(cfg OscillationConfig, src dynamo.TemperatureSource, act dynamo.ActuatorSink, rec dynamo.DataRecorder) (*Oscillator, error) {
	switch {
	case cfg.Cycles <= 0:
		return nil, &dynamo.ConfigurationError{Field: "cycles", Reason: "must be positive"}
	case cfg.Sample <= 0 || cfg.HalfPeriod < cfg.Sample:
		return nil, &dynamo.ConfigurationError{Field: "sample", Reason: "must be positive and no longer than a half-cycle"}
	case cfg.HeatLevel < 0 || cfg.CoolLevel < 0:
		return nil, &dynamo.ConfigurationError{Field: "level", Reason: "must not be negative"}
	case cfg.IOTimeout <= 0:
		return nil, &dynamo.ConfigurationError{Field: "io_timeout", Reason: "must be positive"}
	case cfg.Heat == "" || cfg.Cool == "" || cfg.Heat == cfg.Cool || cfg.Feedback == "":
		return nil, &dynamo.ConfigurationError{Field: "channels", Reason: "feedback, heat and cool must be named and heat must differ from cool"}
	}
	return &Oscillator{
		cfg:    cfg,
		src:    src,
		act:    act,
		rec:    rec,
		logger: slog.New(slog.DiscardHandler),
		clock:  WallClock(),
	}, nil
}

func (o *Oscillator) AddObserver(obs dynamo.Observer) { o.observers = append(o.observers, obs) }
func (o *Oscillator) SetClock(c Clock)                { o.clock = c }

// SetLogger sets the oscillator logger; nil discards output.
func (o *Oscillator) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o.logger = logger.With("component", "oscillate")
}

// Run completes every cycle unless ctx is canceled or an I/O call fails.
// Outputs are switched off and the recorder closed on every exit path.
func (o *Oscillator) Run(ctx context.Context) (*Result, error) {
	if o.ran {
		return nil, errors.New("oscillate: already run")
	}
	o.ran = true

	start := o.clock.Now()
	res := &Result{State: StateRunning, Reason: ReasonDuration}
	runErr := o.run(ctx, start, res)
	if runErr != nil {
		res.Reason = ReasonFault
		o.logger.Error("fatal error, stopping", "tick", res.Ticks, "err", runErr)
	}

	res.State = StateStopping
	shutdownErr := shutdownAll(ctx, o.act, o.cfg.IOTimeout, o.logger)
	var closeErr error
	if err := o.rec.Close(); err != nil {
		closeErr = &dynamo.RecordError{Tick: res.Ticks, Err: err}
	}
	res.State = StateTerminated
	res.Elapsed = o.clock.Now().Sub(start)

	err := errors.Join(runErr, shutdownErr, closeErr)
	if err != nil {
		res.Reason = ReasonFault
	}
	return res, err
}

func (o *Oscillator) run(ctx context.Context, start time.Time, res *Result) error {
	ioCtx := context.WithoutCancel(ctx)
	deadline := start

	for cycle := 0; cycle < o.cfg.Cycles; cycle++ {
		for _, heating := range []bool{false, true} {
			ch, level, command := o.cfg.Cool, o.cfg.CoolLevel, -o.cfg.CoolLevel
			if heating {
				ch, level, command = o.cfg.Heat, o.cfg.HeatLevel, o.cfg.HeatLevel
			}
			if ctx.Err() != nil {
				res.Reason = ReasonCanceled
				return nil
			}
			if err := drive(ioCtx, o.act, ch, level, o.cfg.IOTimeout); err != nil {
				return &dynamo.ActuatorWriteError{Channel: ch, Tick: res.Ticks, Magnitude: level, Err: err}
			}
			o.logger.Info("half-cycle", "cycle", cycle+1, "of", o.cfg.Cycles, "channel", ch, "level", level)

			halfEnd := deadline.Add(o.cfg.HalfPeriod)
			for deadline.Before(halfEnd) {
				if ctx.Err() != nil {
					res.Reason = ReasonCanceled
					return nil
				}
				temp, err := readFeedback(ioCtx, o.src, o.cfg.Feedback, o.cfg.IOTimeout)
				if err != nil {
					return &dynamo.SensorReadError{Channel: o.cfg.Feedback, Tick: res.Ticks, Err: err}
				}
				rec := dynamo.Record{
					Tick:        res.Ticks,
					Channel:     ch,
					Elapsed:     o.clock.Now().Sub(start).Seconds(),
					Measurement: temp,
					Setpoint:    o.cfg.Setpoint,
					Command:     command,
					Magnitude:   level,
					Error:       o.cfg.Setpoint - temp,
				}
				if err := o.rec.Append(rec); err != nil {
					return &dynamo.RecordError{Tick: res.Ticks, Err: err}
				}
				res.Ticks++
				for _, obs := range o.observers {
					obs.OnTick(rec)
				}

				deadline = deadline.Add(o.cfg.Sample)
				if now := o.clock.Now(); now.After(deadline) {
					deadline = now
				}
				if err := o.clock.SleepUntil(ctx, deadline); err != nil {
					res.Reason = ReasonCanceled
					return nil
				}
			}
		}
	}
	return nil
}
