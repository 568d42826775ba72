// Package intent matches event patterns against signal rules to accumulate
// per-category confidence and derive a lead's primary product intent.
package intent

import (
	"fmt"
	"math"
	"sort"
	"time"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"

	"gopkg.in/yaml.v3"
)

// Categories recognized by the detector. Rule files may introduce others;
// these are the ones the default routing table maps.
const (
	CategoryResearch   = "research"
	CategoryB2B        = "b2b"
	CategoryCoCreation = "co_creation"
)

// Rule maps an event/metadata pattern to one intent category and a weight.
type Rule struct {
	ID       string       `yaml:"id"`
	Category string       `yaml:"category"`
	Weight   float64      `yaml:"weight"`
	Match    domain.Match `yaml:"match"`
}

// Validate reports why a rule is malformed.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Category == "" {
		return fmt.Errorf("category is required")
	}
	if r.Weight <= 0 {
		return fmt.Errorf("weight must be positive")
	}
	return nil
}

// Config is the injected, hot-reloadable intent rule set.
type Config struct {
	// Saturation is the weight sum at which confidence reaches ~63%. A zero
	// saturation disables the saturating curve: any signal means 100.
	Saturation float64       `yaml:"saturation"`
	HalfLife   time.Duration `yaml:"-"`
	Rules      []Rule        `yaml:"rules"`
}

// UnmarshalYAML decodes the half-life from a Go duration string ("1080h").
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Saturation float64 `yaml:"saturation"`
		HalfLife   string  `yaml:"halfLife"`
		Rules      []Rule  `yaml:"rules"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Saturation = raw.Saturation
	c.Rules = raw.Rules
	if raw.HalfLife != "" {
		d, err := time.ParseDuration(raw.HalfLife)
		if err != nil {
			return fmt.Errorf("intent halfLife: %w", err)
		}
		c.HalfLife = d
	}
	return nil
}

// Signal is one matched rule firing, appended to the immutable signal ledger.
type Signal struct {
	Category string
	Weight   float64
	RuleID   string
}

// LedgerSignal is a persisted signal read back during decay sweeps.
type LedgerSignal struct {
	Category  string
	Weight    float64
	CreatedAt time.Time
}

// Detector matches intent rules against events.
type Detector struct {
	log *logger.Logger
}

// NewDetector creates an intent detector.
func NewDetector(log *logger.Logger) *Detector {
	return &Detector{log: log}
}

// Detect returns a signal for every matching rule. Malformed rules are
// skipped and logged, never fatal.
func (d *Detector) Detect(lead *domain.Lead, ev domain.Event, cfg Config) []Signal {
	signals := make([]Signal, 0, 2)
	for _, rule := range cfg.Rules {
		if err := rule.Validate(); err != nil {
			if d.log != nil {
				d.log.RuleSkipped(rule.ID, err.Error())
			}
			continue
		}
		if !rule.Match.Matches(ev) {
			continue
		}
		signals = append(signals, Signal{
			Category: rule.Category,
			Weight:   rule.Weight,
			RuleID:   rule.ID,
		})
	}
	return signals
}

// Confidence converts a decayed weight sum into a 0-100 percentage using a
// saturating curve: it monotonically approaches but never reaches 100.
func Confidence(sum float64, cfg Config) int {
	if sum <= 0 {
		return 0
	}
	if cfg.Saturation <= 0 {
		return 100
	}
	return int(math.Floor(100 * (1 - math.Exp(-sum/cfg.Saturation))))
}

// decayFactor is the exponential half-life multiplier for signal age.
func decayFactor(age time.Duration, halfLife time.Duration) float64 {
	if age <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Seconds()/halfLife.Seconds())
}

// Apply advances the per-category state to `at` and folds in new signals.
// Exponential decay composes across increments, so this never rescans the
// signal ledger.
func Apply(states map[string]domain.IntentCategoryState, asOf *time.Time, signals []Signal, at time.Time, cfg Config) map[string]domain.IntentCategoryState {
	next := make(map[string]domain.IntentCategoryState, len(states)+len(signals))

	factor := 1.0
	if asOf != nil {
		factor = decayFactor(at.Sub(*asOf), cfg.HalfLife)
	}
	for category, state := range states {
		state.Sum *= factor
		next[category] = state
	}

	for _, sig := range signals {
		state := next[sig.Category]
		state.Sum += sig.Weight
		if at.After(state.LastSignalAt) {
			state.LastSignalAt = at
		}
		next[sig.Category] = state
	}

	return next
}

// RecomputeFromLedger rebuilds the per-category state by replaying every
// persisted signal at the given instant. Only the decay sweep uses this; it
// must agree with the incremental path for the same timestamp.
func RecomputeFromLedger(signals []LedgerSignal, at time.Time, cfg Config) map[string]domain.IntentCategoryState {
	states := make(map[string]domain.IntentCategoryState)
	for _, sig := range signals {
		state := states[sig.Category]
		state.Sum += sig.Weight * decayFactor(at.Sub(sig.CreatedAt), cfg.HalfLife)
		if sig.CreatedAt.After(state.LastSignalAt) {
			state.LastSignalAt = sig.CreatedAt
		}
		states[sig.Category] = state
	}
	return states
}

// Derive picks the primary intent: highest decayed sum, ties broken by the
// most recent signal, then by the lexicographically smallest category so the
// result is deterministic.
func Derive(states map[string]domain.IntentCategoryState, cfg Config) (*string, int) {
	categories := make([]string, 0, len(states))
	for category := range states {
		if states[category].Sum > 0 {
			categories = append(categories, category)
		}
	}
	if len(categories) == 0 {
		return nil, 0
	}

	sort.Strings(categories)
	best := categories[0]
	for _, category := range categories[1:] {
		current, candidate := states[best], states[category]
		switch {
		case candidate.Sum > current.Sum:
			best = category
		case candidate.Sum == current.Sum && candidate.LastSignalAt.After(current.LastSignalAt):
			best = category
		}
	}

	return &best, Confidence(states[best].Sum, cfg)
}
