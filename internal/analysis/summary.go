package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

type Summary struct {
	Samples  int
	Duration float64
	Interval float64

	MeanTemp float64
	StdTemp  float64
	MinTemp  float64
	MaxTemp  float64

	MeanError float64
	RMSError  float64
	// SteadyStateError is the mean error over the final quarter of the run.
	SteadyStateError float64
	// SettlingTime is the elapsed time after which |error| stays within
	// the band; negative if the run never settles.
	SettlingTime float64

	MeanCommand float64
	Retunes     int
}

func Temperatures(records []dynamo.Record) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Measurement
	}
	return out
}

func Errors(records []dynamo.Record) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Error
	}
	return out
}

func Commands(records []dynamo.Record) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Command
	}
	return out
}

func Summarize(records []dynamo.Record, band float64) Summary {
	n := len(records)
	s := Summary{Samples: n, SettlingTime: -1}
	if n == 0 {
		return s
	}

	temps := Temperatures(records)
	errs := Errors(records)

	s.Duration = records[n-1].Elapsed - records[0].Elapsed
	if n > 1 {
		s.Interval = s.Duration / float64(n-1)
	}
	s.MeanTemp, s.StdTemp = stat.MeanStdDev(temps, nil)
	if n == 1 {
		s.StdTemp = 0
	}
	s.MinTemp = floats.Min(temps)
	s.MaxTemp = floats.Max(temps)

	s.MeanError = stat.Mean(errs, nil)
	s.RMSError = math.Sqrt(floats.Dot(errs, errs) / float64(n))
	tail := errs[n-max(1, n/4):]
	s.SteadyStateError = stat.Mean(tail, nil)
	s.MeanCommand = stat.Mean(Commands(records), nil)

	for i := n - 1; i >= 0; i-- {
		if math.Abs(errs[i]) > band {
			if i < n-1 {
				s.SettlingTime = records[i+1].Elapsed - records[0].Elapsed
			}
			break
		}
		if i == 0 {
			s.SettlingTime = 0
		}
	}

	for i := 1; i < n; i++ {
		if records[i].Gains != records[i-1].Gains {
			s.Retunes++
		}
	}
	return s
}
