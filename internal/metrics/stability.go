package metrics

import (
	"math"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

// InBand is the fraction of ticks whose tracking error stayed within
// tolerance of the setpoint.
type InBand struct {
	name      string
	tolerance float64
	inside    int
	samples   int
}

func NewInBand(tolerance float64) *InBand {
	return &InBand{
		name:      "in_band",
		tolerance: tolerance,
	}
}

func (b *InBand) Name() string {
	return b.name
}

func (b *InBand) Observe(rec dynamo.Record) {
	b.samples++
	if math.Abs(rec.Error) <= b.tolerance {
		b.inside++
	}
}

func (b *InBand) Value() float64 {
	if b.samples == 0 {
		return 0
	}
	return float64(b.inside) / float64(b.samples)
}

func (b *InBand) Reset() {
	b.inside = 0
	b.samples = 0
}
