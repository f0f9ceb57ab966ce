package hardware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

var (
	ErrConversion     = errors.New("hardware: reading out of conversion range")
	ErrUnknownChannel = errors.New("hardware: unknown channel")
)

// Callendar-Van Dusen coefficients for platinum RTDs above 0 °C.
const (
	PlatinumA = 3.9083e-3
	PlatinumB = -5.775e-7
)

// RTDParams describes a platinum RTD in a voltage divider with a fixed
// reference resistor, sampled by a Linux IIO ADC. The divider output is
// measured across the RTD.
type RTDParams struct {
	Device        string
	Channels      map[dynamo.Channel]int
	SupplyVoltage float64
	ReferenceOhms float64
	NominalOhms   float64
	A             float64
	B             float64
}

// RTD is a dynamo.TemperatureSource backed by sysfs.
type RTD struct {
	p RTDParams
}

func NewRTD(p RTDParams) (*RTD, error) {
	if p.Device == "" {
		return nil, &dynamo.ConfigurationError{Field: "bench.iio_device", Reason: "must be set"}
	}
	if !(p.SupplyVoltage > 0) || !(p.ReferenceOhms > 0) || !(p.NominalOhms > 0) {
		return nil, &dynamo.ConfigurationError{Field: "bench", Reason: "supply voltage and resistances must be positive"}
	}
	if p.B == 0 {
		return nil, &dynamo.ConfigurationError{Field: "bench.b", Reason: "must be non-zero"}
	}
	return &RTD{p: p}, nil
}

func (r *RTD) Read(ctx context.Context, ch dynamo.Channel) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	idx, ok := r.p.Channels[ch]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}

	millivolts, err := r.readMillivolts(idx)
	if err != nil {
		return 0, err
	}
	ohms, err := DividerResistance(millivolts/1000, r.p.SupplyVoltage, r.p.ReferenceOhms)
	if err != nil {
		return 0, err
	}
	return CallendarVanDusen(ohms, r.p.NominalOhms, r.p.A, r.p.B)
}

func (r *RTD) readMillivolts(idx int) (float64, error) {
	raw, err := readSysfsFloat(filepath.Join(r.p.Device, fmt.Sprintf("in_voltage%d_raw", idx)))
	if err != nil {
		return 0, err
	}
	scale, err := readSysfsFloat(filepath.Join(r.p.Device, fmt.Sprintf("in_voltage%d_scale", idx)))
	if errors.Is(err, os.ErrNotExist) {
		scale, err = readSysfsFloat(filepath.Join(r.p.Device, "in_voltage_scale"))
	}
	if err != nil {
		return 0, err
	}
	return raw * scale, nil
}

func readSysfsFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// DividerResistance solves the divider for the RTD: R = (Vin/V - 1) * Rref.
func DividerResistance(volts, supply, reference float64) (float64, error) {
	if !(volts > 0) || volts >= supply {
		return 0, fmt.Errorf("%w: %.4f V with %.2f V supply", ErrConversion, volts, supply)
	}
	return (supply/volts - 1) * reference, nil
}

// CallendarVanDusen inverts R = R0(1 + A*T + B*T^2) for T in °C.
func CallendarVanDusen(ohms, nominal, a, b float64) (float64, error) {
	disc := a*a + 4*b*(ohms/nominal-1)
	if disc < 0 || math.IsNaN(disc) {
		return 0, fmt.Errorf("%w: %.2f ohm", ErrConversion, ohms)
	}
	return (math.Sqrt(disc) - a) / (2 * b), nil
}
