// Package scoring evaluates configurable rules against events to produce
// score deltas across the demographic, engagement, and behavior dimensions,
// with lazy time-based decay.
package scoring

import (
	"fmt"
	"time"

	"leadflow_backend/internal/leads/domain"

	"gopkg.in/yaml.v3"
)

// Decay kinds supported by score rules.
const (
	DecayNone        = "none"
	DecayLinear      = "linear"
	DecayExponential = "exponential"
)

// DecayPolicy describes how a delta loses value over time. Exponential decay
// halves the contribution every HalfLife; linear decay reaches zero at twice
// the half-life so the two curves agree at the half-life point.
type DecayPolicy struct {
	Kind     string        `yaml:"kind"`
	HalfLife time.Duration `yaml:"halfLife"`
}

// UnmarshalYAML decodes the half-life from a Go duration string ("720h").
func (p *DecayPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Kind     string `yaml:"kind"`
		HalfLife string `yaml:"halfLife"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	p.Kind = raw.Kind
	if raw.HalfLife != "" {
		d, err := time.ParseDuration(raw.HalfLife)
		if err != nil {
			return fmt.Errorf("decay halfLife: %w", err)
		}
		p.HalfLife = d
	}
	return nil
}

// Decays reports whether entries under this policy lose value over time.
func (p DecayPolicy) Decays() bool {
	return p.Kind == DecayLinear || p.Kind == DecayExponential
}

// Validate checks the decay parameters.
func (p DecayPolicy) Validate() error {
	switch p.Kind {
	case "", DecayNone:
		return nil
	case DecayLinear, DecayExponential:
		if p.HalfLife <= 0 {
			return fmt.Errorf("decay kind %q requires a positive halfLife", p.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown decay kind %q", p.Kind)
	}
}

// FiringCap limits how often one rule may fire for one lead, e.g. at most
// once per 24h.
type FiringCap struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

// UnmarshalYAML decodes the cap window from a Go duration string ("24h").
func (c *FiringCap) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Window string `yaml:"window"`
		Max    int    `yaml:"max"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Max = raw.Max
	if raw.Window != "" {
		d, err := time.ParseDuration(raw.Window)
		if err != nil {
			return fmt.Errorf("cap window: %w", err)
		}
		c.Window = d
	}
	return nil
}

// Validate checks the cap parameters.
func (c FiringCap) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("cap window must be positive")
	}
	if c.Max < 1 {
		return fmt.Errorf("cap max must be at least 1")
	}
	return nil
}

// Rule is a plain data record evaluated by the engine; rules are never code.
type Rule struct {
	ID        string           `yaml:"id"`
	Priority  int              `yaml:"priority"`
	Dimension domain.Dimension `yaml:"dimension"`
	Points    int              `yaml:"points"`
	Match     domain.Match     `yaml:"match"`
	Cap       *FiringCap       `yaml:"cap"`
	Decay     DecayPolicy      `yaml:"decay"`
}

// Validate reports why a rule is malformed. Malformed rules are skipped and
// logged during evaluation, never fatal.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if !domain.IsKnownDimension(r.Dimension) {
		return fmt.Errorf("unknown dimension %q", r.Dimension)
	}
	if r.Points == 0 {
		return fmt.Errorf("points must be non-zero")
	}
	if err := r.Decay.Validate(); err != nil {
		return err
	}
	if r.Cap != nil {
		if err := r.Cap.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Config is the injected, hot-reloadable scoring rule set.
type Config struct {
	Bounds domain.ScoreBounds `yaml:"bounds"`
	Rules  []Rule             `yaml:"rules"`
}
