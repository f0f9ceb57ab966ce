package config

import (
	"sort"
	"time"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

// Presets adjust the defaults for common rigs.
var Presets = map[string]func(*Config){
	"bench": func(c *Config) {
		c.Backend = "bench"
	},
	"gentle": func(c *Config) {
		c.Controller.Gains = dynamo.Gains{Kp: 0.3, Ki: 0.05, Kd: 0}
		c.Controller.MaxRate = 0.25
		c.Tuning.Enabled = false
	},
	"aggressive": func(c *Config) {
		c.Controller.Gains = dynamo.Gains{Kp: 2, Ki: 0.4, Kd: 0.2}
		c.Controller.Kaw = 0.5
		c.Controller.MaxRate = 2
	},
	"grid": func(c *Config) {
		c.Tuning.Method = "grid"
		c.Tuning.GridSteps = 6
	},
	"demo": func(c *Config) {
		c.Interval = 100 * time.Millisecond
		c.Duration = time.Minute
		c.Plant.TimeConstant = 10
	},
}

func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
