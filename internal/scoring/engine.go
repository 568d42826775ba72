package scoring

import (
	"context"
	"math"
	"sort"
	"time"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// ScoreDelta is one rule firing: a signed point value on one dimension,
// carrying the decay policy under which it will age.
type ScoreDelta struct {
	Dimension domain.Dimension
	Amount    int
	RuleID    string
	Decay     DecayPolicy
}

// LedgerEntry is a persisted score delta read back for recomputation.
type LedgerEntry struct {
	Dimension domain.Dimension
	Amount    int
	RuleID    string
	Decay     DecayPolicy
	CreatedAt time.Time
}

// HistoryReader is the one external read inside the otherwise-pure engine:
// firing-cap enforcement needs recent ledger entries for the same rule.
type HistoryReader interface {
	CountRuleFirings(ctx context.Context, leadID string, ruleID string, since time.Time) (int, error)
}

// Engine evaluates scoring rules against events.
type Engine struct {
	history HistoryReader
	log     *logger.Logger
}

// NewEngine creates a scoring engine.
func NewEngine(history HistoryReader, log *logger.Logger) *Engine {
	return &Engine{history: history, log: log}
}

// Score evaluates all rules against the event in ascending priority order.
// Every matching, non-capped rule fires; deltas are additive across rules.
// Malformed rules are skipped and logged so one bad rule never blocks the
// rest. Cap lookups that fail are surfaced as transient errors for retry.
func (e *Engine) Score(ctx context.Context, lead *domain.Lead, ev domain.Event, cfg Config) ([]ScoreDelta, error) {
	rules := sortedRules(cfg.Rules)

	deltas := make([]ScoreDelta, 0, len(rules))
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			if e.log != nil {
				e.log.RuleSkipped(rule.ID, err.Error())
			}
			continue
		}

		if !rule.Match.Matches(ev) {
			continue
		}

		if rule.Cap != nil {
			since := ev.OccurredAt.Add(-rule.Cap.Window)
			fired, err := e.history.CountRuleFirings(ctx, lead.ID.String(), rule.ID, since)
			if err != nil {
				return nil, apperr.Transient("score history read failed", err).WithOp("scoring.Score")
			}
			if fired >= rule.Cap.Max {
				continue
			}
		}

		deltas = append(deltas, ScoreDelta{
			Dimension: rule.Dimension,
			Amount:    rule.Points,
			RuleID:    rule.ID,
			Decay:     rule.Decay,
		})
	}

	return deltas, nil
}

// sortedRules returns the rules in deterministic evaluation order: ascending
// priority, ties broken by rule id.
func sortedRules(rules []Rule) []Rule {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// RecomputeComponents replays the ledger at the given instant: each entry
// contributes its decayed effective amount, summed per dimension and clamped
// to the configured bounds. The scheduled sweep and on-demand reads both call
// this, so the two computation paths cannot diverge.
func RecomputeComponents(entries []LedgerEntry, bounds domain.ScoreBounds, now time.Time) domain.ScoreComponents {
	sums := map[domain.Dimension]float64{}
	for _, entry := range entries {
		sums[entry.Dimension] += EffectiveAmount(entry.Amount, entry.Decay, entry.CreatedAt, now)
	}

	var components domain.ScoreComponents
	for dimension, sum := range sums {
		components.Set(dimension, int(math.Round(sum)))
	}
	return bounds.Clamp(components)
}
