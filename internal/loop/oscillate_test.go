package loop_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ESiegman/Thermo-PID/internal/analysis"
	"github.com/ESiegman/Thermo-PID/internal/dynamo"
	"github.com/ESiegman/Thermo-PID/internal/loop"
	"github.com/ESiegman/Thermo-PID/internal/plant"
)

var _ = Describe("Oscillator", func() {
	var (
		cfg   loop.OscillationConfig
		clock *fakeClock
		rec   *memRecorder
	)

	BeforeEach(func() {
		cfg = loop.OscillationConfig{
			Cycles:     8,
			HalfPeriod: 8 * time.Second,
			Sample:     500 * time.Millisecond,
			HeatLevel:  5,
			CoolLevel:  5,
			IOTimeout:  time.Second,
			Setpoint:   22,
			Feedback:   "temperature",
			Heat:       "CH2",
			Cool:       "CH1",
		}
		clock = newFakeClock()
		rec = &memRecorder{failAt: -1}
	})

	It("alternates cool and heat and reveals the drive period", func() {
		p := plant.DefaultParams()
		p.TimeConstant = 5
		th, err := plant.NewThermal(p)
		Expect(err).NotTo(HaveOccurred())

		o, err := loop.NewOscillator(cfg, th, th, rec)
		Expect(err).NotTo(HaveOccurred())
		o.SetClock(clock)

		res, err := o.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reason).To(Equal(loop.ReasonDuration))
		Expect(res.Ticks).To(Equal(8 * 2 * 16))
		Expect(rec.records[0].Channel).To(Equal(dynamo.Channel("CH1")))
		Expect(rec.records[16].Channel).To(Equal(dynamo.Channel("CH2")))
		Expect(rec.records[16].Command).To(Equal(5.0))
		Expect(th.Shutdowns()).To(Equal(1))
		Expect(rec.closed).To(Equal(1))

		period, _, ok := analysis.DominantPeriod(analysis.Temperatures(rec.records), 0.5)
		Expect(ok).To(BeTrue())
		Expect(period).To(BeNumerically("~", 16, 0.5))
	})

	It("stops on sensor failure with outputs off", func() {
		src := &scriptedSource{temps: []float64{22}, failAt: 5}
		sink := &recordingSink{failSetAt: -1}
		o, err := loop.NewOscillator(cfg, src, sink, rec)
		Expect(err).NotTo(HaveOccurred())
		o.SetClock(clock)

		res, err := o.Run(context.Background())
		Expect(err).To(MatchError(dynamo.ErrSensorRead))
		Expect(res.Reason).To(Equal(loop.ReasonFault))
		Expect(res.Ticks).To(Equal(5))
		Expect(sink.shutdowns).To(Equal(1))
	})

	It("rejects a sample longer than the half-cycle", func() {
		cfg.Sample = 10 * time.Second
		_, err := loop.NewOscillator(cfg, &scriptedSource{}, &recordingSink{}, rec)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})
})
