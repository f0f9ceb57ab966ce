package loop_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ESiegman/Thermo-PID/internal/control"
	"github.com/ESiegman/Thermo-PID/internal/dynamo"
	"github.com/ESiegman/Thermo-PID/internal/loop"
	"github.com/ESiegman/Thermo-PID/internal/metrics"
	"github.com/ESiegman/Thermo-PID/internal/optim"
	"github.com/ESiegman/Thermo-PID/internal/plant"
)

func defaultPIDParams() control.Params {
	return control.Params{
		Gains:   dynamo.Gains{Kp: 0.5, Ki: 0.1, Kd: 0.01},
		Kaw:     0.01,
		TC:      1,
		T:       0.1,
		Min:     0,
		Max:     10,
		MaxRate: 0.5,
	}
}

func defaultConfig() loop.Config {
	return loop.Config{
		Setpoint:        50,
		Interval:        500 * time.Millisecond,
		IOTimeout:       time.Second,
		Feedback:        "temperature",
		Heat:            "CH2",
		Cool:            "CH1",
		HistoryCapacity: 50,
		MinHistory:      10,
		TuneWindow:      5 * time.Second,
	}
}

var _ = Describe("Loop", func() {
	var (
		cfg     loop.Config
		params  control.Params
		clock   *fakeClock
		src     *scriptedSource
		sink    *recordingSink
		rec     *memRecorder
		logs    *bytes.Buffer
		ctx     context.Context
		cancel  context.CancelFunc
		l       *loop.Loop
		result  *loop.Result
		runErr  error
		prepare func()
		run     func()
	)

	BeforeEach(func() {
		cfg = defaultConfig()
		params = defaultPIDParams()
		clock = newFakeClock()
		src = &scriptedSource{temps: []float64{20}, failAt: -1}
		sink = &recordingSink{failSetAt: -1}
		rec = &memRecorder{failAt: -1}
		logs = &bytes.Buffer{}
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(func() { cancel() })

		prepare = func() {
			pid, err := control.NewPID(params)
			Expect(err).NotTo(HaveOccurred())
			l, err = loop.New(cfg, pid, src, sink, rec)
			Expect(err).NotTo(HaveOccurred())
			l.SetClock(clock)
			l.SetLogger(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
		run = func() {
			result, runErr = l.Run(ctx)
		}
	})

	Context("with a fixed duration", func() {
		BeforeEach(func() {
			cfg.Duration = 5 * time.Second
			prepare()
			run()
		})

		It("stops gracefully after the duration", func() {
			Expect(runErr).NotTo(HaveOccurred())
			Expect(result.Reason).To(Equal(loop.ReasonDuration))
			Expect(result.State).To(Equal(loop.StateTerminated))
			Expect(result.Ticks).To(Equal(10))
			Expect(rec.records).To(HaveLen(10))
		})

		It("switches the outputs off once and closes the recorder", func() {
			Expect(sink.shutdowns).To(Equal(1))
			Expect(rec.closed).To(Equal(1))
		})

		It("soft-starts the command at the slew limit", func() {
			Expect(rec.records[0].Command).To(BeNumerically("~", 0.05, 1e-12))
			Expect(rec.records[1].Command).To(BeNumerically("~", 0.10, 1e-12))
			Expect(sink.sets[0]).To(Equal(setCall{"CH2", rec.records[0].Magnitude}))
		})

		It("records elapsed time on the cadence", func() {
			for i, r := range rec.records {
				Expect(r.Tick).To(Equal(i))
				Expect(r.Elapsed).To(BeNumerically("~", 0.5*float64(i), 1e-9))
				Expect(r.Error).To(Equal(30.0))
			}
		})

		It("refuses a second run", func() {
			_, err := l.Run(ctx)
			Expect(err).To(HaveOccurred())
			Expect(sink.shutdowns).To(Equal(1))
		})
	})

	Context("when the command is not positive", func() {
		BeforeEach(func() {
			cfg.Duration = time.Second
			params.Min = -10
			src.temps = []float64{80}
			prepare()
			run()
		})

		It("drives the cooling channel with the magnitude", func() {
			Expect(runErr).NotTo(HaveOccurred())
			Expect(sink.sets).To(HaveLen(2))
			Expect(sink.sets[0].Channel).To(Equal(dynamo.Channel("CH1")))
			Expect(sink.sets[0].Magnitude).To(BeNumerically("~", 0.05, 1e-12))
			Expect(rec.records[0].Command).To(BeNumerically("~", -0.05, 1e-12))
		})
	})

	Context("when the sensor fails", func() {
		BeforeEach(func() {
			src.failAt = 3
			prepare()
			run()
		})

		It("stops with a fatal sensor error", func() {
			Expect(runErr).To(MatchError(dynamo.ErrSensorRead))
			Expect(errors.Is(runErr, errHardware)).To(BeTrue())
			var se *dynamo.SensorReadError
			Expect(errors.As(runErr, &se)).To(BeTrue())
			Expect(se.Tick).To(Equal(3))
			Expect(se.Channel).To(Equal(dynamo.Channel("temperature")))
			Expect(dynamo.IsFatal(runErr)).To(BeTrue())
		})

		It("shuts down exactly once and keeps earlier records", func() {
			Expect(sink.shutdowns).To(Equal(1))
			Expect(rec.closed).To(Equal(1))
			Expect(rec.records).To(HaveLen(3))
			Expect(result.Reason).To(Equal(loop.ReasonFault))
			Expect(result.State).To(Equal(loop.StateTerminated))
		})

		It("logs the failure with its tick", func() {
			Expect(logs.String()).To(ContainSubstring("level=ERROR"))
			Expect(logs.String()).To(ContainSubstring("tick=3"))
		})
	})

	Context("when the sensor hangs", func() {
		BeforeEach(func() {
			cfg.IOTimeout = 20 * time.Millisecond
			src.block = true
			prepare()
			run()
		})

		It("treats the timeout as a sensor failure", func() {
			Expect(runErr).To(MatchError(dynamo.ErrSensorRead))
			Expect(errors.Is(runErr, context.DeadlineExceeded)).To(BeTrue())
			Expect(sink.shutdowns).To(Equal(1))
			Expect(sink.sets).To(BeEmpty())
		})
	})

	Context("when the sensor ignores its deadline", func() {
		BeforeEach(func() {
			cfg.IOTimeout = 20 * time.Millisecond
			src.stuck = make(chan struct{})
			DeferCleanup(func() { close(src.stuck) })
			prepare()
		})

		It("abandons the read and stops on the timeout", func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				run()
			}()
			Eventually(done).WithTimeout(2 * time.Second).Should(BeClosed())

			Expect(runErr).To(MatchError(dynamo.ErrSensorRead))
			Expect(runErr).To(MatchError(loop.ErrIOTimeout))
			Expect(errors.Is(runErr, context.DeadlineExceeded)).To(BeTrue())
			Expect(result.Ticks).To(Equal(0))
			Expect(sink.shutdowns).To(Equal(1))
		})
	})

	Context("when shutdown ignores its deadline", func() {
		BeforeEach(func() {
			cfg.Duration = time.Second
			cfg.IOTimeout = 20 * time.Millisecond
			sink.stuckOff = make(chan struct{})
			DeferCleanup(func() { close(sink.stuckOff) })
			prepare()
		})

		It("returns a fatal error instead of hanging", func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				run()
			}()
			Eventually(done).WithTimeout(2 * time.Second).Should(BeClosed())

			Expect(runErr).To(MatchError(loop.ErrIOTimeout))
			Expect(result.Reason).To(Equal(loop.ReasonFault))
			Expect(rec.closed).To(Equal(1))
			Expect(logs.String()).To(ContainSubstring("output state unknown"))
		})
	})

	Context("with a nil logger", func() {
		It("discards output instead of panicking", func() {
			cfg.Duration = time.Second
			prepare()
			l.SetLogger(nil)
			run()
			Expect(runErr).NotTo(HaveOccurred())
			Expect(logs.String()).To(BeEmpty())
		})
	})

	Context("when the actuator fails", func() {
		BeforeEach(func() {
			sink.failSetAt = 2
			prepare()
			run()
		})

		It("stops with a fatal actuator error", func() {
			var ae *dynamo.ActuatorWriteError
			Expect(errors.As(runErr, &ae)).To(BeTrue())
			Expect(ae.Tick).To(Equal(2))
			Expect(ae.Channel).To(Equal(dynamo.Channel("CH2")))
			Expect(sink.shutdowns).To(Equal(1))
			Expect(rec.records).To(HaveLen(2))
		})
	})

	Context("when the recorder fails", func() {
		BeforeEach(func() {
			rec.failAt = 1
			prepare()
			run()
		})

		It("stops with a fatal record error", func() {
			Expect(runErr).To(MatchError(dynamo.ErrRecord))
			Expect(sink.shutdowns).To(Equal(1))
		})
	})

	Context("when the operator cancels", func() {
		BeforeEach(func() {
			prepare()
			l.AddObserver(loop.ObserverFunc(func(r dynamo.Record) {
				if r.Tick == 4 {
					cancel()
				}
			}))
			run()
		})

		It("stops gracefully", func() {
			Expect(runErr).NotTo(HaveOccurred())
			Expect(result.Reason).To(Equal(loop.ReasonCanceled))
			Expect(result.Ticks).To(Equal(5))
			Expect(sink.shutdowns).To(Equal(1))
			Expect(rec.closed).To(Equal(1))
		})

		It("logs no error", func() {
			Expect(logs.String()).NotTo(ContainSubstring("level=ERROR"))
		})
	})

	Context("when cancel arrives during actuation", func() {
		BeforeEach(func() {
			prepare()
			sink.onSet = func() {
				if len(sink.sets) == 2 {
					cancel()
				}
			}
			run()
		})

		It("completes the tick before stopping", func() {
			Expect(runErr).NotTo(HaveOccurred())
			Expect(sink.sets).To(HaveLen(3))
			Expect(rec.records).To(HaveLen(3))
			Expect(sink.ctxCanceled).To(HaveEach(BeFalse()))
		})
	})

	Context("when shutdown itself fails", func() {
		BeforeEach(func() {
			cfg.Duration = time.Second
			sink.failOff = true
			prepare()
			run()
		})

		It("reports the failure", func() {
			Expect(runErr).To(HaveOccurred())
			Expect(errors.Is(runErr, errHardware)).To(BeTrue())
			Expect(result.Reason).To(Equal(loop.ReasonFault))
			Expect(sink.shutdowns).To(Equal(1))
		})
	})

	Context("with tuning enabled", func() {
		var initial dynamo.Gains

		BeforeEach(func() {
			cfg.Duration = 12500 * time.Millisecond
			initial = params.Gains
		})

		It("retunes on the window and keeps the seed under the tracking cost", func() {
			prepare()
			opt, err := optim.New(optim.DefaultSettings())
			Expect(err).NotTo(HaveOccurred())
			l.SetOptimizer(opt)
			run()

			Expect(runErr).NotTo(HaveOccurred())
			Expect(result.Ticks).To(Equal(25))
			Expect(result.Tunings).To(Equal(2))
			Expect(result.FinalGains.Kp).To(BeNumerically("~", initial.Kp, 1e-9))
			Expect(result.FinalGains.Ki).To(BeNumerically("~", initial.Ki, 1e-9))
			Expect(result.FinalGains.Kd).To(BeNumerically("~", initial.Kd, 1e-9))
		})

		It("applies gains returned by a different cost", func() {
			prepare()
			opt, err := optim.New(optim.DefaultSettings())
			Expect(err).NotTo(HaveOccurred())
			opt.WithCost(func(g, _ []float64, _ float64) float64 {
				return (g[0]-2)*(g[0]-2) + (g[1]-1)*(g[1]-1) + (g[2]-0.5)*(g[2]-0.5)
			})
			l.SetOptimizer(opt)
			run()

			Expect(runErr).NotTo(HaveOccurred())
			Expect(result.FinalGains.Kp).To(BeNumerically("~", 2, 1e-3))
			Expect(rec.records[24].Gains.Kp).To(BeNumerically("~", 2, 1e-3))
			Expect(rec.records[10].Gains).To(Equal(initial))
		})

		It("keeps the gains and warns when the optimizer fails", func() {
			prepare()
			opt, err := optim.New(optim.DefaultSettings())
			Expect(err).NotTo(HaveOccurred())
			opt.WithCost(func(_, _ []float64, _ float64) float64 { return math.NaN() })
			l.SetOptimizer(opt)
			run()

			Expect(runErr).NotTo(HaveOccurred())
			Expect(result.Tunings).To(Equal(0))
			Expect(result.FailedTunings).To(Equal(2))
			Expect(result.FinalGains).To(Equal(initial))
			Expect(logs.String()).To(ContainSubstring("level=WARN"))
			Expect(logs.String()).NotTo(ContainSubstring("level=ERROR"))
		})
	})

	Context("against the simulated plant", func() {
		It("heats toward the setpoint and collects metrics", func() {
			th, err := plant.NewThermal(plant.DefaultParams())
			Expect(err).NotTo(HaveOccurred())
			cfg.Duration = 2 * time.Minute

			pid, err := control.NewPID(params)
			Expect(err).NotTo(HaveOccurred())
			l, err = loop.New(cfg, pid, th, th, rec)
			Expect(err).NotTo(HaveOccurred())
			l.SetClock(clock)
			for _, m := range metrics.Standard() {
				l.AddMetric(m)
			}

			result, runErr = l.Run(ctx)
			Expect(runErr).NotTo(HaveOccurred())
			Expect(result.Ticks).To(Equal(240))
			Expect(rec.records[239].Measurement).To(BeNumerically(">", rec.records[0].Measurement+5))
			Expect(result.Metrics).To(HaveKey("iae"))
			Expect(th.Shutdowns()).To(Equal(1))
			heat, cool := th.Outputs()
			Expect(heat).To(BeZero())
			Expect(cool).To(BeZero())
		})
	})

	Describe("New", func() {
		It("rejects an invalid configuration", func() {
			cfg.Interval = 0
			pid, _ := control.NewPID(params)
			_, err := loop.New(cfg, pid, src, sink, rec)
			Expect(err).To(MatchError(dynamo.ErrConfiguration))
		})
	})
})

var _ = DescribeTable("ShouldOptimize",
	func(elapsed time.Duration, historyLen int, expected bool) {
		Expect(loop.ShouldOptimize(elapsed, historyLen, 10, 5*time.Second, 500*time.Millisecond)).To(Equal(expected))
	},
	Entry("short history", 10*time.Second, 10, false),
	Entry("window start", 10*time.Second, 11, true),
	Entry("inside first interval", 15300*time.Millisecond, 20, true),
	Entry("after first interval", 15500*time.Millisecond, 20, false),
	Entry("mid window", 12*time.Second, 50, false),
)
