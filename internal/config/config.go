package config

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/transcribe"
)

const (
	DefaultHorizon = 10.0
	DefaultSteps   = 20
	DefaultMembers = 1
)

var ErrInvalid = errors.New("config: invalid configuration")

// Config describes one optimization run: which problem to build, how to
// discretize it and how to solve the result.
type Config struct {
	Problem  string             `yaml:"problem"`
	Horizon  float64            `yaml:"horizon"`
	Steps    int                `yaml:"steps"`
	Members  int                `yaml:"members"`
	Params   map[string]float64 `yaml:"params,omitempty"`
	Initial  map[string]float64 `yaml:"initial,omitempty"`
	LogLevel string             `yaml:"log_level"`

	Transcription TranscriptionConfig            `yaml:"transcription"`
	Solver        nlp.AugmentedLagrangianOptions `yaml:"solver"`
}

type TranscriptionConfig struct {
	Theta            float64        `yaml:"theta"`
	IntegratedStates []string       `yaml:"integrated_states,omitempty"`
	CheckLinearity   bool           `yaml:"check_linearity"`
	Parallel         bool           `yaml:"parallel"`
	Newton           NewtonConfig   `yaml:"newton"`
	JacobianCheck    JacobianConfig `yaml:"jacobian_check"`
}

type NewtonConfig struct {
	Tol     float64 `yaml:"tol"`
	MaxIter int     `yaml:"max_iter"`
}

type JacobianConfig struct {
	Enabled  bool    `yaml:"enabled"`
	MaxAbs   float64 `yaml:"max_abs"`
	MinAbs   float64 `yaml:"min_abs"`
	MaxRatio float64 `yaml:"max_ratio"`
}

func DefaultConfig() *Config {
	opts := transcribe.DefaultOptions()
	return &Config{
		Problem:  "integrator",
		Horizon:  DefaultHorizon,
		Steps:    DefaultSteps,
		Members:  DefaultMembers,
		LogLevel: "info",
		Transcription: TranscriptionConfig{
			Theta:          opts.Theta,
			CheckLinearity: opts.CheckCollocationLinearity,
			Parallel:       opts.Parallel,
			Newton:         NewtonConfig{Tol: opts.Newton.Tol, MaxIter: opts.Newton.MaxIter},
			JacobianCheck: JacobianConfig{
				MaxAbs:   opts.JacobianCheck.MaxAbs,
				MinAbs:   opts.JacobianCheck.MinAbs,
				MaxRatio: opts.JacobianCheck.MaxRatio,
			},
		},
		Solver: nlp.DefaultAugmentedLagrangianOptions(),
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
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

func (c *Config) Validate() error {
	switch {
	case c.Problem == "":
		return fmt.Errorf("%w: no problem", ErrInvalid)
	case c.Horizon <= 0:
		return fmt.Errorf("%w: horizon %g must be positive", ErrInvalid, c.Horizon)
	case c.Steps < 1:
		return fmt.Errorf("%w: need at least one step, got %d", ErrInvalid, c.Steps)
	case c.Members < 1:
		return fmt.Errorf("%w: need at least one ensemble member, got %d", ErrInvalid, c.Members)
	case c.Transcription.Theta < 0 || c.Transcription.Theta > 1:
		return fmt.Errorf("%w: theta %g outside [0, 1]", ErrInvalid, c.Transcription.Theta)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Grid returns the equidistant collocation grid over the horizon.
func (c *Config) Grid() []float64 {
	return floats.Span(make([]float64, c.Steps+1), 0, c.Horizon)
}

func (c *Config) TranscribeOptions() transcribe.Options {
	t := c.Transcription
	return transcribe.Options{
		Theta:                     t.Theta,
		IntegratedStates:          append([]string(nil), t.IntegratedStates...),
		CheckCollocationLinearity: t.CheckLinearity,
		Newton:                    sym.RootfinderOptions{Tol: t.Newton.Tol, MaxIter: t.Newton.MaxIter},
		Parallel:                  t.Parallel,
		JacobianCheck: transcribe.JacobianCheck{
			Enabled:  t.JacobianCheck.Enabled,
			MaxAbs:   t.JacobianCheck.MaxAbs,
			MinAbs:   t.JacobianCheck.MinAbs,
			MaxRatio: t.JacobianCheck.MaxRatio,
		},
	}
}

// Param returns an override from Params, or def.
func (c *Config) Param(name string, def float64) float64 {
	if v, ok := c.Params[name]; ok {
		return v
	}
	return def
}

// InitialValue returns an override from Initial, or def.
func (c *Config) InitialValue(name string, def float64) float64 {
	if v, ok := c.Initial[name]; ok {
		return v
	}
	return def
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Params = cloneMap(c.Params)
	out.Initial = cloneMap(c.Initial)
	out.Transcription.IntegratedStates = append([]string(nil), c.Transcription.IntegratedStates...)
	return &out
}

func cloneMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
