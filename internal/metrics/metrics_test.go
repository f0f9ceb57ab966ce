package metrics

import (
	"math"
	"testing"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

func ramp() []dynamo.Record {
	temps := []float64{40, 45, 49, 51, 50.2, 50}
	recs := make([]dynamo.Record, len(temps))
	for i, temp := range temps {
		recs[i] = dynamo.Record{
			Tick:        i,
			Elapsed:     float64(i) * 0.5,
			Measurement: temp,
			Setpoint:    50,
			Command:     (50 - temp) / 10,
			Error:       50 - temp,
		}
	}
	return recs
}

func observeAll(m dynamo.Metric, recs []dynamo.Record) float64 {
	for _, r := range recs {
		m.Observe(r)
	}
	return m.Value()
}

func TestTrackingMetrics(t *testing.T) {
	tests := []struct {
		metric dynamo.Metric
		want   float64
	}{
		// errors after the first record: 5, 1, -1, -0.2, 0 over 0.5 s each
		{NewIAE(), 0.5 * (5 + 1 + 1 + 0.2 + 0)},
		{NewISE(), 0.5 * (25 + 1 + 1 + 0.04 + 0)},
		{NewOvershoot(), 1},
		{NewControlEffort(), (1 + 0.5 + 0.1 + 0.1 + 0.02 + 0) / 6},
		{NewInBand(0.5), 2.0 / 6},
	}
	for _, tt := range tests {
		t.Run(tt.metric.Name(), func(t *testing.T) {
			got := observeAll(tt.metric, ramp())
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestOvershootFromAbove(t *testing.T) {
	m := NewOvershoot()
	for _, temp := range []float64{60, 52, 48.5, 49.5} {
		m.Observe(dynamo.Record{Measurement: temp, Setpoint: 50})
	}
	if math.Abs(m.Value()-1.5) > 1e-9 {
		t.Errorf("expected undershoot 1.5, got %f", m.Value())
	}
}

func TestMetricReset(t *testing.T) {
	for _, m := range Standard() {
		observeAll(m, ramp())
		m.Reset()
		if m.Value() != 0 {
			t.Errorf("%s: expected zero after reset, got %f", m.Name(), m.Value())
		}
	}
}
