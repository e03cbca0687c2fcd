package config

import "sort"

// Presets holds overrides applied on top of DefaultConfig, keyed by problem
// then preset name.
var Presets = map[string]map[string]func(*Config){
	"integrator": {
		"short": func(c *Config) {
			c.Horizon, c.Steps = 2, 2
		},
		"fine": func(c *Config) {
			c.Horizon, c.Steps = 2, 40
		},
	},
	"spring_mass": {
		"settle": func(c *Config) {
			c.Horizon, c.Steps = 5, 25
			c.Initial = map[string]float64{"pos": 2}
		},
		"stiff": func(c *Config) {
			c.Horizon, c.Steps = 5, 50
			c.Params = map[string]float64{"stiffness": 100}
		},
		"explicit": func(c *Config) {
			c.Horizon, c.Steps = 5, 50
			c.Transcription.Theta = 0
		},
	},
	"pendulum": {
		"small": func(c *Config) {
			c.Horizon, c.Steps = 5, 25
			c.Initial = map[string]float64{"theta": 0.2}
		},
		"large": func(c *Config) {
			c.Horizon, c.Steps = 5, 50
			c.Initial = map[string]float64{"theta": 2.5}
		},
	},
	"reservoir": {
		"integrated": func(c *Config) {
			c.Horizon, c.Steps = 4, 8
			c.Transcription.IntegratedStates = []string{"level"}
		},
		"explicit": func(c *Config) {
			c.Horizon, c.Steps = 4, 16
			c.Transcription.Theta = 0
		},
	},
	"delay": {
		"channel": func(c *Config) {
			c.Horizon, c.Steps = 12, 12
			c.Params = map[string]float64{"travel_time": 2}
		},
	},
	"ensemble": {
		"three": func(c *Config) {
			c.Horizon, c.Steps, c.Members = 5, 10, 3
		},
	},
}

// GetPreset returns DefaultConfig for the problem with the preset applied,
// or nil when either is unknown.
func GetPreset(problem, preset string) *Config {
	presets, ok := Presets[problem]
	if !ok {
		return nil
	}
	apply, ok := presets[preset]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Problem = problem
	apply(cfg)
	return cfg
}

func ListPresets(problem string) []string {
	presets, ok := Presets[problem]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
