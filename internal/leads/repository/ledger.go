package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"leadflow_backend/internal/intent"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/scoring"
)

// CountRuleFirings counts ledger entries for one rule on one lead since the
// given instant. Firing caps are enforced from this count.
func (r *Repository) CountRuleFirings(ctx context.Context, leadID string, ruleID string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM score_history
		WHERE lead_id = $1 AND rule_id = $2 AND created_at > $3
	`, leadID, ruleID, since).Scan(&count)
	return count, err
}

// ListScoreHistory returns every ledger entry for a lead in insertion order.
func (r *Repository) ListScoreHistory(ctx context.Context, leadID uuid.UUID) ([]scoring.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dimension, amount, rule_id, decay_kind, decay_half_life_seconds, created_at
		FROM score_history WHERE lead_id = $1
		ORDER BY created_at ASC, id ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]scoring.LedgerEntry, 0)
	for rows.Next() {
		var (
			entry           scoring.LedgerEntry
			dimension       string
			halfLifeSeconds int64
		)
		if err := rows.Scan(&dimension, &entry.Amount, &entry.RuleID, &entry.Decay.Kind, &halfLifeSeconds, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Dimension = domain.Dimension(dimension)
		entry.Decay.HalfLife = time.Duration(halfLifeSeconds) * time.Second
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListIntentSignals returns every persisted intent signal for a lead.
func (r *Repository) ListIntentSignals(ctx context.Context, leadID uuid.UUID) ([]intent.LedgerSignal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT category, weight, created_at
		FROM intent_signals WHERE lead_id = $1
		ORDER BY created_at ASC, id ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	signals := make([]intent.LedgerSignal, 0)
	for rows.Next() {
		var sig intent.LedgerSignal
		if err := rows.Scan(&sig.Category, &sig.Weight, &sig.CreatedAt); err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// ComputedState is the materialized view of a lead's scored state at one
// instant, written back under a version check.
type ComputedState struct {
	LeadID           uuid.UUID
	ExpectedVersion  int64
	Scores           domain.ScoreComponents
	TotalScore       int
	PrimaryIntent    *string
	IntentConfidence int
	IntentSums       map[string]domain.IntentCategoryState
	IntentSumsAsOf   time.Time
	MaterializedAt   time.Time
}

// EventOutcome bundles everything one processed event changes: the ledger
// appends plus the recomputed materialized state. Applied atomically.
type EventOutcome struct {
	State      ComputedState
	EventID    uuid.UUID
	OccurredAt time.Time
	Deltas     []scoring.ScoreDelta
	Signals    []intent.Signal
	// Outbox rows ride in the same transaction so a crash cannot lose the
	// side effects an applied event requested.
	Outbox []OutboxMessage
}

// updateComputedState performs the versioned write of materialized score and
// intent state. Returns ErrVersionConflict or ErrNotFound when the guarded
// update misses.
func (r *Repository) updateComputedState(ctx context.Context, q queryer, state ComputedState, lastActivityAt *time.Time) error {
	sums := state.IntentSums
	if sums == nil {
		sums = map[string]domain.IntentCategoryState{}
	}
	sumsJSON, err := json.Marshal(sums)
	if err != nil {
		return fmt.Errorf("encode intent sums: %w", err)
	}

	tag, err := q.Exec(ctx, `
		UPDATE leads SET
			demographic_score = $3, engagement_score = $4, behavior_score = $5, total_score = $6,
			primary_intent = $7, intent_confidence = $8, intent_sums = $9, intent_sums_as_of = $10,
			score_materialized_at = $11,
			last_activity_at = GREATEST(last_activity_at, COALESCE($12, last_activity_at)),
			version = version + 1
		WHERE id = $1 AND version = $2
	`, state.LeadID, state.ExpectedVersion,
		state.Scores.Demographic, state.Scores.Engagement, state.Scores.Behavior, state.TotalScore,
		state.PrimaryIntent, state.IntentConfidence, sumsJSON, state.IntentSumsAsOf,
		state.MaterializedAt, lastActivityAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, state.LeadID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// queryer is the slice of pgx shared by *pgxpool.Pool and pgx.Tx that the
// guarded update needs.
type queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ApplyEventOutcome persists one event's ledger appends and the recomputed
// lead state in a single transaction. A replayed event (its ledger rows
// already exist) is a no-op and returns applied=false.
func (r *Repository) ApplyEventOutcome(ctx context.Context, outcome EventOutcome) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seen bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM score_history WHERE lead_id = $1 AND event_id = $2)
			OR EXISTS (SELECT 1 FROM intent_signals WHERE lead_id = $1 AND event_id = $2)
	`, outcome.State.LeadID, outcome.EventID).Scan(&seen)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	for _, delta := range outcome.Deltas {
		_, err := tx.Exec(ctx, `
			INSERT INTO score_history (lead_id, dimension, amount, rule_id, decays, decay_kind, decay_half_life_seconds, event_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (lead_id, event_id, rule_id) WHERE event_id IS NOT NULL DO NOTHING
		`, outcome.State.LeadID, string(delta.Dimension), delta.Amount, delta.RuleID,
			delta.Decay.Decays(), decayKind(delta.Decay), int64(delta.Decay.HalfLife/time.Second),
			outcome.EventID, outcome.OccurredAt)
		if err != nil {
			return false, err
		}
	}

	for _, sig := range outcome.Signals {
		_, err := tx.Exec(ctx, `
			INSERT INTO intent_signals (lead_id, category, weight, rule_id, event_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (lead_id, event_id, rule_id) WHERE event_id IS NOT NULL DO NOTHING
		`, outcome.State.LeadID, sig.Category, sig.Weight, sig.RuleID, outcome.EventID, outcome.OccurredAt)
		if err != nil {
			return false, err
		}
	}

	occurred := outcome.OccurredAt
	if err := r.updateComputedState(ctx, tx, outcome.State, &occurred); err != nil {
		return false, err
	}

	if err := insertOutboxTx(ctx, tx, outcome.Outbox); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func decayKind(policy scoring.DecayPolicy) string {
	if policy.Kind == "" {
		return scoring.DecayNone
	}
	return policy.Kind
}

// MaterializeScores writes a sweep's recomputed state under the usual version
// check. The sweep does not touch last_activity_at.
func (r *Repository) MaterializeScores(ctx context.Context, state ComputedState) error {
	return r.updateComputedState(ctx, r.pool, state, nil)
}

// ListStaleLeadIDs returns leads whose materialized score is older than the
// cutoff, oldest first, capped at limit. The decay sweep works this list.
func (r *Repository) ListStaleLeadIDs(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM leads
		WHERE score_materialized_at < $1
		ORDER BY score_materialized_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0, limit)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
