package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ESiegman/Thermo-PID/internal/backend"
	"github.com/ESiegman/Thermo-PID/internal/dynamo"
	"github.com/ESiegman/Thermo-PID/internal/logging"
	"github.com/ESiegman/Thermo-PID/internal/loop"
	"github.com/ESiegman/Thermo-PID/internal/session"
	"github.com/ESiegman/Thermo-PID/internal/storage"
	"github.com/ESiegman/Thermo-PID/internal/tui"
)

func runRegulator(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	s := session.New(cfg, storage.New(cfg.DataDir), backend.NewRegistry(), logger)
	if err := s.Setup(cmd.Context()); err != nil {
		return err
	}
	res, runErr := s.Run(cmd.Context())
	if res != nil {
		printResult(os.Stdout, s.RunID(), res)
	}
	return runErr
}

// runLive runs the loop and the dashboard side by side. Quitting the
// dashboard cancels the loop, which then shuts the outputs off; a loop
// that ends on its own closes the dashboard.
func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "live.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger, err := logging.New(logFile, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	s := session.New(cfg, storage.New(cfg.DataDir), backend.NewRegistry(), logger)
	if err := s.Setup(cmd.Context()); err != nil {
		return err
	}

	runCtx, stopLoop := context.WithCancel(cmd.Context())
	defer stopLoop()

	feed := tui.NewFeed(64)
	s.Loop().AddObserver(feed)
	p := tea.NewProgram(tui.NewDashboard(feed, stopLoop, s.RunID(), cfg.Backend, cfg.Setpoint, cfg.Controller.Max), tea.WithAltScreen())

	var (
		res    *loop.Result
		runErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		defer feed.Close()
		res, runErr = s.Run(runCtx)
		p.Send(tui.DoneMsg{Result: res, Err: runErr})
		return nil
	})
	g.Go(func() error {
		_, err := p.Run()
		stopLoop()
		return err
	})
	uiErr := g.Wait()

	if res != nil {
		printResult(os.Stdout, s.RunID(), res)
	}
	return errors.Join(runErr, uiErr)
}

func runOscillate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	st := storage.New(cfg.DataDir)
	if err := st.Init(); err != nil {
		return err
	}
	b, err := backend.NewRegistry().Open(ctx, cfg, logger.With("component", "backend"))
	if err != nil {
		return err
	}
	defer b.Close()

	started := time.Now()
	runID, rec, err := st.Create(cfg.Backend+"-osc", started)
	if err != nil {
		return errors.Join(err, switchOff(ctx, b.Actuator, cfg.IOTimeout))
	}

	o, err := loop.NewOscillator(loop.OscillationConfig{
		Cycles:     cycles,
		HalfPeriod: halfPeriod,
		Sample:     cfg.Interval,
		HeatLevel:  level,
		CoolLevel:  level,
		IOTimeout:  cfg.IOTimeout,
		Setpoint:   cfg.Setpoint,
		Feedback:   dynamo.Channel(cfg.Channels.Feedback),
		Heat:       dynamo.Channel(cfg.Channels.Heat),
		Cool:       dynamo.Channel(cfg.Channels.Cool),
	}, b.Source, b.Actuator, rec)
	if err != nil {
		return errors.Join(err, rec.Close(), switchOff(ctx, b.Actuator, cfg.IOTimeout))
	}
	o.SetLogger(logger)

	res, runErr := o.Run(ctx)
	metaErr := st.SaveMetadata(storage.RunMetadata{
		ID:         runID,
		Backend:    cfg.Backend,
		Timestamp:  started,
		Finished:   time.Now(),
		Setpoint:   cfg.Setpoint,
		Interval:   cfg.Interval.Seconds(),
		Method:     "oscillate",
		Ticks:      res.Ticks,
		StopReason: string(res.Reason),
		Failed:     runErr != nil,
	})
	printResult(os.Stdout, runID, res)
	return errors.Join(runErr, metaErr)
}

// runProbe reads the sensor on the cadence. Nothing is driven, but the
// outputs are still switched off on exit.
func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	b, err := backend.NewRegistry().Open(ctx, cfg, logger.With("component", "backend"))
	if err != nil {
		return err
	}
	defer b.Close()
	defer func() {
		if err := switchOff(ctx, b.Actuator, cfg.IOTimeout); err != nil {
			logger.Error("actuator shutdown failed", "err", err)
		}
	}()

	ch := dynamo.Channel(cfg.Channels.Feedback)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	start := time.Now()
	for i := 0; i < samples; i++ {
		rctx, cancel := context.WithTimeout(ctx, cfg.IOTimeout)
		temp, err := b.Source.Read(rctx, ch)
		cancel()
		if err != nil {
			return &dynamo.SensorReadError{Channel: ch, Tick: i, Err: err}
		}
		fmt.Printf("%8.2fs  %s  %.3f °C\n", time.Since(start).Seconds(), ch, temp)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func printResult(w io.Writer, runID string, res *loop.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", runID)
	fmt.Fprintf(tw, "stopped\t%s\n", res.Reason)
	fmt.Fprintf(tw, "ticks\t%d\n", res.Ticks)
	fmt.Fprintf(tw, "elapsed\t%s\n", res.Elapsed.Truncate(time.Millisecond))
	if res.Tunings > 0 || res.FailedTunings > 0 {
		fmt.Fprintf(tw, "retunes\t%d ok, %d failed\n", res.Tunings, res.FailedTunings)
		fmt.Fprintf(tw, "gains\t%s -> %s\n", res.InitialGains, res.FinalGains)
	}

	names := make([]string, 0, len(res.Metrics))
	for name := range res.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%.4f\n", name, res.Metrics[name])
	}
	tw.Flush()
}

// switchOff is the last-resort shutdown for commands that fail before a
// loop takes ownership of the outputs.
func switchOff(ctx context.Context, act dynamo.ActuatorSink, timeout time.Duration) error {
	off, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return act.ShutdownAll(off)
}
