package analysis

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"
)

// PowerSpectrum returns |X(k)|² for k in [0, n/2] of the mean-removed,
// Hann-windowed series.
func PowerSpectrum(data []float64) []float64 {
	n := len(data)
	if n < 2 {
		return nil
	}
	mean := stat.Mean(data, nil)
	windowed := make([]float64, n)
	for i, v := range data {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		windowed[i] = (v - mean) * w
	}

	spectrum := fft.FFTReal(windowed)
	ps := make([]float64, n/2+1)
	for i := range ps {
		a := cmplx.Abs(spectrum[i])
		ps[i] = a * a
	}
	return ps
}

// DominantPeriod finds the strongest non-DC bin of a series sampled every
// dt seconds. ok is false when the series is too short or flat.
func DominantPeriod(data []float64, dt float64) (period, power float64, ok bool) {
	ps := PowerSpectrum(data)
	if len(ps) < 2 || !(dt > 0) {
		return 0, 0, false
	}
	best := 0
	for i := 1; i < len(ps); i++ {
		if ps[i] > power {
			power = ps[i]
			best = i
		}
	}
	if best == 0 {
		return 0, 0, false
	}
	freq := float64(best) / (float64(len(data)) * dt)
	return 1 / freq, power, true
}
