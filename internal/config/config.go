package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ESiegman/Thermo-PID/internal/control"
	"github.com/ESiegman/Thermo-PID/internal/dynamo"
	"github.com/ESiegman/Thermo-PID/internal/loop"
	"github.com/ESiegman/Thermo-PID/internal/optim"
)

const (
	DefaultSetpoint       = 50.0
	DefaultInterval       = 500 * time.Millisecond
	DefaultKp             = 0.5
	DefaultKi             = 0.1
	DefaultKd             = 0.01
	DefaultKaw            = 0.01
	DefaultTC             = 1.0
	DefaultT              = 0.1
	DefaultOutputMax      = 10.0
	DefaultOutputMin      = 0.0
	DefaultMaxRate        = 0.5
	DefaultTuneWindow     = 5 * time.Second
	DefaultMinHistory     = 10
	DefaultIOTimeout      = 2 * time.Second
	DefaultCurrentLimit   = 2.0
	DefaultDataDir        = ".thermopid"
	DefaultFeedback       = "temperature"
	DefaultHeatChannel    = "CH2"
	DefaultCoolChannel    = "CH1"
	DefaultBackend        = "sim"
	DefaultAmbient        = 22.0
	DefaultTimeConstant   = 40.0
	DefaultHeatGain       = 6.0
	DefaultCoolGain       = 3.0
	DefaultNoise          = 0.05
	DefaultSubsteps       = 10
	DefaultPSAddress      = "192.168.1.50:5555"
	DefaultIIODevice      = "/sys/bus/iio/devices/iio:device0"
	DefaultSupplyVoltage  = 3.3
	DefaultReferenceOhms  = 1000.0
	DefaultNominalOhms    = 1000.0
	DefaultCVDA           = 3.9083e-3
	DefaultCVDB           = -5.775e-7
	DefaultExcitation     = "CH3"
	DefaultExcitationV    = 3.3
	DefaultExcitationA    = 0.02
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultOptimizeMethod = "lbfgs"
)

type Config struct {
	Setpoint   float64          `yaml:"setpoint"`
	Interval   time.Duration    `yaml:"interval"`
	Duration   time.Duration    `yaml:"duration"`
	IOTimeout  time.Duration    `yaml:"io_timeout"`
	DataDir    string           `yaml:"data_dir"`
	Backend    string           `yaml:"backend"`
	Channels   ChannelConfig    `yaml:"channels"`
	Controller ControllerConfig `yaml:"controller"`
	Tuning     TuningConfig     `yaml:"tuning"`
	Plant      PlantConfig      `yaml:"plant"`
	Bench      BenchConfig      `yaml:"bench"`
	Log        LogConfig        `yaml:"log"`
}

type ChannelConfig struct {
	Feedback string `yaml:"feedback"`
	Heat     string `yaml:"heat"`
	Cool     string `yaml:"cool"`
}

type ControllerConfig struct {
	Gains   dynamo.Gains `yaml:"gains"`
	Kaw     float64      `yaml:"kaw"`
	TC      float64      `yaml:"t_c"`
	T       float64      `yaml:"t"`
	Min     float64      `yaml:"min"`
	Max     float64      `yaml:"max"`
	MaxRate float64      `yaml:"max_rate"`
}

type TuningConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Method          string        `yaml:"method"`
	Bounds          [][2]float64  `yaml:"bounds"`
	HistoryCapacity int           `yaml:"history_capacity"`
	MinHistory      int           `yaml:"min_history"`
	Window          time.Duration `yaml:"window"`
	MaxIterations   int           `yaml:"max_iterations"`
	MaxEvaluations  int           `yaml:"max_evaluations"`
	Budget          time.Duration `yaml:"budget"`
	GridSteps       int           `yaml:"grid_steps"`
}

type PlantConfig struct {
	Initial      float64 `yaml:"initial"`
	Ambient      float64 `yaml:"ambient"`
	TimeConstant float64 `yaml:"time_constant"`
	HeatGain     float64 `yaml:"heat_gain"`
	CoolGain     float64 `yaml:"cool_gain"`
	Noise        float64 `yaml:"noise"`
	Seed         int64   `yaml:"seed"`
	Integrator   string  `yaml:"integrator"`
	Substeps     int     `yaml:"substeps"`
}

type BenchConfig struct {
	Address           string  `yaml:"address"`
	CurrentLimit      float64 `yaml:"current_limit"`
	ExcitationChannel string  `yaml:"excitation_channel"`
	ExcitationVoltage float64 `yaml:"excitation_voltage"`
	ExcitationCurrent float64 `yaml:"excitation_current"`
	IIODevice         string  `yaml:"iio_device"`
	ADCChannel        int     `yaml:"adc_channel"`
	SupplyVoltage     float64 `yaml:"supply_voltage"`
	ReferenceOhms     float64 `yaml:"reference_ohms"`
	NominalOhms       float64 `yaml:"nominal_ohms"`
	A                 float64 `yaml:"a"`
	B                 float64 `yaml:"b"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Setpoint:  DefaultSetpoint,
		Interval:  DefaultInterval,
		IOTimeout: DefaultIOTimeout,
		DataDir:   DefaultDataDir,
		Backend:   DefaultBackend,
		Channels: ChannelConfig{
			Feedback: DefaultFeedback,
			Heat:     DefaultHeatChannel,
			Cool:     DefaultCoolChannel,
		},
		Controller: ControllerConfig{
			Gains:   dynamo.Gains{Kp: DefaultKp, Ki: DefaultKi, Kd: DefaultKd},
			Kaw:     DefaultKaw,
			TC:      DefaultTC,
			T:       DefaultT,
			Min:     DefaultOutputMin,
			Max:     DefaultOutputMax,
			MaxRate: DefaultMaxRate,
		},
		Tuning: TuningConfig{
			Enabled:         true,
			Method:          DefaultOptimizeMethod,
			Bounds:          [][2]float64{{0, 10}, {0, 10}, {0, 10}},
			HistoryCapacity: optim.DefaultHistoryCapacity,
			MinHistory:      DefaultMinHistory,
			Window:          DefaultTuneWindow,
			MaxIterations:   100,
			MaxEvaluations:  1000,
			Budget:          200 * time.Millisecond,
			GridSteps:       5,
		},
		Plant: PlantConfig{
			Initial:      DefaultAmbient,
			Ambient:      DefaultAmbient,
			TimeConstant: DefaultTimeConstant,
			HeatGain:     DefaultHeatGain,
			CoolGain:     DefaultCoolGain,
			Noise:        DefaultNoise,
			Seed:         1,
			Integrator:   "rk4",
			Substeps:     DefaultSubsteps,
		},
		Bench: BenchConfig{
			Address:           DefaultPSAddress,
			CurrentLimit:      DefaultCurrentLimit,
			ExcitationChannel: DefaultExcitation,
			ExcitationVoltage: DefaultExcitationV,
			ExcitationCurrent: DefaultExcitationA,
			IIODevice:         DefaultIIODevice,
			SupplyVoltage:     DefaultSupplyVoltage,
			ReferenceOhms:     DefaultReferenceOhms,
			NominalOhms:       DefaultNominalOhms,
			A:                 DefaultCVDA,
			B:                 DefaultCVDB,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// PIDParams maps the controller section onto control.Params.
func (c *Config) PIDParams() control.Params {
	return control.Params{
		Gains:   c.Controller.Gains,
		Kaw:     c.Controller.Kaw,
		TC:      c.Controller.TC,
		T:       c.Controller.T,
		Min:     c.Controller.Min,
		Max:     c.Controller.Max,
		MaxRate: c.Controller.MaxRate,
	}
}

// OptimizerSettings maps the tuning section onto optim.Settings.
func (c *Config) OptimizerSettings() optim.Settings {
	return optim.Settings{
		Method:         optim.Method(c.Tuning.Method),
		Bounds:         c.Tuning.Bounds,
		MaxIterations:  c.Tuning.MaxIterations,
		MaxEvaluations: c.Tuning.MaxEvaluations,
		Runtime:        c.Tuning.Budget,
		GridSteps:      c.Tuning.GridSteps,
	}
}

func (c *Config) LoopConfig() loop.Config {
	return loop.Config{
		Setpoint:        c.Setpoint,
		Interval:        c.Interval,
		Duration:        c.Duration,
		IOTimeout:       c.IOTimeout,
		Feedback:        dynamo.Channel(c.Channels.Feedback),
		Heat:            dynamo.Channel(c.Channels.Heat),
		Cool:            dynamo.Channel(c.Channels.Cool),
		HistoryCapacity: c.Tuning.HistoryCapacity,
		MinHistory:      c.Tuning.MinHistory,
		TuneWindow:      c.Tuning.Window,
	}
}

// Validate reports the first invalid field as a *dynamo.ConfigurationError.
func (c *Config) Validate() error {
	if err := c.PIDParams().Validate(); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return &dynamo.ConfigurationError{Field: "interval", Reason: "must be positive"}
	}
	if c.Duration < 0 {
		return &dynamo.ConfigurationError{Field: "duration", Reason: "must not be negative"}
	}
	if c.IOTimeout <= 0 {
		return &dynamo.ConfigurationError{Field: "io_timeout", Reason: "must be positive"}
	}
	if c.Channels.Feedback == "" || c.Channels.Heat == "" || c.Channels.Cool == "" {
		return &dynamo.ConfigurationError{Field: "channels", Reason: "feedback, heat and cool must be named"}
	}
	if c.Channels.Heat == c.Channels.Cool {
		return &dynamo.ConfigurationError{Field: "channels", Reason: "heat and cool must differ"}
	}
	if err := c.OptimizerSettings().Validate(); err != nil {
		return &dynamo.ConfigurationError{Field: "tuning", Reason: err.Error()}
	}
	if c.Tuning.HistoryCapacity <= 0 {
		return &dynamo.ConfigurationError{Field: "tuning.history_capacity", Reason: "must be positive"}
	}
	if c.Tuning.MinHistory < 0 || c.Tuning.MinHistory >= c.Tuning.HistoryCapacity {
		return &dynamo.ConfigurationError{Field: "tuning.min_history", Reason: "must be below history_capacity"}
	}
	if c.Tuning.Window <= 0 {
		return &dynamo.ConfigurationError{Field: "tuning.window", Reason: "must be positive"}
	}
	return nil
}
