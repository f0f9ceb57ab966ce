// Package session wires a configuration into a runnable regulator: backend,
// controller, optimizer, run directory and metrics.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ESiegman/Thermo-PID/internal/backend"
	"github.com/ESiegman/Thermo-PID/internal/config"
	"github.com/ESiegman/Thermo-PID/internal/control"
	"github.com/ESiegman/Thermo-PID/internal/loop"
	"github.com/ESiegman/Thermo-PID/internal/metrics"
	"github.com/ESiegman/Thermo-PID/internal/optim"
	"github.com/ESiegman/Thermo-PID/internal/storage"
)

type Session struct {
	cfg      *config.Config
	store    *storage.Store
	registry *backend.Registry
	logger   *slog.Logger

	backend *backend.Backend
	loop    *loop.Loop
	runID   string
	started time.Time
}

func New(cfg *config.Config, store *storage.Store, registry *backend.Registry, logger *slog.Logger) *Session {
	return &Session{
		cfg:      cfg,
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// Setup validates the configuration, opens the backend and allocates the
// run directory. On failure nothing is left open.
func (s *Session) Setup(ctx context.Context) (err error) {
	if s.loop != nil {
		return errors.New("session already set up")
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	pid, err := control.NewPID(s.cfg.PIDParams())
	if err != nil {
		return err
	}
	var opt *optim.Optimizer
	if s.cfg.Tuning.Enabled {
		if opt, err = optim.New(s.cfg.OptimizerSettings()); err != nil {
			return err
		}
	}
	if err := s.store.Init(); err != nil {
		return err
	}

	b, err := s.registry.Open(ctx, s.cfg, s.logger.With("component", "backend"))
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			off, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.IOTimeout)
			defer cancel()
			err = errors.Join(err, b.Actuator.ShutdownAll(off), b.Close())
		}
	}()

	s.started = time.Now()
	runID, rec, err := s.store.Create(s.cfg.Backend, s.started)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	l, err := loop.New(s.cfg.LoopConfig(), pid, b.Source, b.Actuator, rec)
	if err != nil {
		return errors.Join(err, rec.Close())
	}
	l.SetLogger(s.logger)
	l.SetOptimizer(opt)
	for _, m := range metrics.Standard() {
		l.AddMetric(m)
	}

	s.backend = b
	s.loop = l
	s.runID = runID
	s.logger.Info("run created", "run", runID, "backend", b.Name)
	return nil
}

// Loop returns the underlying loop for adding observers.
func (s *Session) Loop() *loop.Loop {
	return s.loop
}

func (s *Session) RunID() string {
	return s.runID
}

// Run drives the loop to completion, releases the backend and writes the
// run metadata. The loop's error decides the exit status; backend and
// metadata failures are joined onto it.
func (s *Session) Run(ctx context.Context) (*loop.Result, error) {
	if s.loop == nil {
		return nil, errors.New("session not set up")
	}

	res, runErr := s.loop.Run(ctx)
	closeErr := s.backend.Close()
	if res == nil {
		return nil, errors.Join(runErr, closeErr)
	}

	meta := storage.RunMetadata{
		ID:           s.runID,
		Backend:      s.cfg.Backend,
		Timestamp:    s.started,
		Finished:     time.Now(),
		Setpoint:     s.cfg.Setpoint,
		Interval:     s.cfg.Interval.Seconds(),
		Method:       "off",
		InitialGains: res.InitialGains,
		FinalGains:   res.FinalGains,
		Ticks:        res.Ticks,
		Tunings:      res.Tunings,
		StopReason:   string(res.Reason),
		Failed:       runErr != nil,
		Metrics:      res.Metrics,
	}
	if s.cfg.Tuning.Enabled {
		meta.Method = s.cfg.Tuning.Method
	}
	metaErr := s.store.SaveMetadata(meta)
	if metaErr != nil {
		s.logger.Error("saving run metadata failed", "run", s.runID, "err", metaErr)
	}

	return res, errors.Join(runErr, closeErr, metaErr)
}
