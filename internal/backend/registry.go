package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ESiegman/Thermo-PID/internal/config"
	"github.com/ESiegman/Thermo-PID/internal/dynamo"
	"github.com/ESiegman/Thermo-PID/internal/hardware"
	"github.com/ESiegman/Thermo-PID/internal/plant"
)

// Backend pairs the feedback source with the actuator it regulates.
type Backend struct {
	Name     string
	Source   dynamo.TemperatureSource
	Actuator dynamo.ActuatorSink
	closers  []func() error
}

// Close releases backend resources. It does not switch outputs off.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}

type Factory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error)

type Registry struct {
	backends map[string]Factory
}

func NewRegistry() *Registry {
	r := &Registry{
		backends: make(map[string]Factory),
	}
	r.backends["sim"] = openSim
	r.backends["bench"] = openBench
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.backends[name] = f
}

func (r *Registry) Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	fn, ok := r.backends[cfg.Backend]
	if !ok {
		return nil, &dynamo.ConfigurationError{Field: "backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
	b, err := fn(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	b.Name = cfg.Backend
	return b, nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PlantParams maps the plant section onto the simulator, advancing one
// cadence interval per read.
func PlantParams(cfg *config.Config) plant.Params {
	return plant.Params{
		Initial:      cfg.Plant.Initial,
		Ambient:      cfg.Plant.Ambient,
		TimeConstant: cfg.Plant.TimeConstant,
		HeatGain:     cfg.Plant.HeatGain,
		CoolGain:     cfg.Plant.CoolGain,
		Noise:        cfg.Plant.Noise,
		Seed:         cfg.Plant.Seed,
		Period:       cfg.Interval,
		Substeps:     cfg.Plant.Substeps,
		Integrator:   cfg.Plant.Integrator,
		Feedback:     dynamo.Channel(cfg.Channels.Feedback),
		Heat:         dynamo.Channel(cfg.Channels.Heat),
		Cool:         dynamo.Channel(cfg.Channels.Cool),
	}
}

func openSim(_ context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	th, err := plant.NewThermal(PlantParams(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info("simulated plant ready",
		"ambient", cfg.Plant.Ambient,
		"tau", cfg.Plant.TimeConstant,
		"integrator", cfg.Plant.Integrator)
	return &Backend{Source: th, Actuator: th}, nil
}

func openBench(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	b := cfg.Bench
	rtd, err := hardware.NewRTD(hardware.RTDParams{
		Device:        b.IIODevice,
		Channels:      map[dynamo.Channel]int{dynamo.Channel(cfg.Channels.Feedback): b.ADCChannel},
		SupplyVoltage: b.SupplyVoltage,
		ReferenceOhms: b.ReferenceOhms,
		NominalOhms:   b.NominalOhms,
		A:             b.A,
		B:             b.B,
	})
	if err != nil {
		return nil, err
	}

	var extra []dynamo.Channel
	if b.ExcitationChannel != "" {
		extra = append(extra, dynamo.Channel(b.ExcitationChannel))
	}
	ps, err := hardware.DialSupply(ctx, hardware.SupplyParams{
		Address:      b.Address,
		CurrentLimit: b.CurrentLimit,
		Heat:         dynamo.Channel(cfg.Channels.Heat),
		Cool:         dynamo.Channel(cfg.Channels.Cool),
		Extra:        extra,
		DialTimeout:  cfg.IOTimeout,
	})
	if err != nil {
		return nil, err
	}

	if b.ExcitationChannel != "" {
		ectx, cancel := context.WithTimeout(ctx, cfg.IOTimeout)
		err := ps.Enable(ectx, dynamo.Channel(b.ExcitationChannel), b.ExcitationVoltage, b.ExcitationCurrent)
		cancel()
		if err != nil {
			return nil, errors.Join(fmt.Errorf("enable excitation: %w", err), ps.Close())
		}
	}
	logger.Info("bench connected", "supply", b.Address, "iio", b.IIODevice, "adc_channel", b.ADCChannel)
	return &Backend{Source: rtd, Actuator: ps, closers: []func() error{ps.Close}}, nil
}
