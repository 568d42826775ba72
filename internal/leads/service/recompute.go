package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/automation"
	"leadflow_backend/internal/intent"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/scoring"
	"leadflow_backend/platform/apperr"
)

// RecomputeScore replays the lead's full ledger at the current instant,
// persists the decayed state, and returns the refreshed lead. This is the
// synchronous path behind POST /leads/:id/score; the decay sweep calls the
// same computation, so the two cannot drift apart.
func (s *Service) RecomputeScore(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error) {
	const op = "leads.RecomputeScore"

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		lead, err := s.store.GetLead(ctx, leadID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.NotFound("lead not found").WithOp(op)
			}
			return nil, apperr.Transient("lead load failed", err).WithOp(op)
		}

		state, err := s.computeState(ctx, lead, s.now())
		if err != nil {
			return nil, err
		}

		if err := s.store.MaterializeScores(ctx, state); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return nil, storeErr(op, "score materialization failed", err)
		}

		lead.Scores = state.Scores
		lead.TotalScore = state.TotalScore
		lead.PrimaryIntent = state.PrimaryIntent
		lead.IntentConfidence = state.IntentConfidence
		lead.IntentSums = state.IntentSums
		lead.IntentSumsAsOf = &state.IntentSumsAsOf
		lead.ScoreMaterializedAt = state.MaterializedAt
		lead.Version++
		return lead, nil
	}

	return nil, apperr.Conflict("recompute raced concurrent writers past retry budget").WithOp(op)
}

// ApplyDecay is RecomputeScore for the sweep: same computation, error-only
// result. A vanished lead is reported as NotFound so the sweep skips it.
func (s *Service) ApplyDecay(ctx context.Context, leadID uuid.UUID) error {
	_, err := s.RecomputeScore(ctx, leadID)
	return err
}

// computeState replays both ledgers at the given instant.
func (s *Service) computeState(ctx context.Context, lead *domain.Lead, at time.Time) (repository.ComputedState, error) {
	const op = "leads.computeState"
	set := s.rules.Current()

	history, err := s.store.ListScoreHistory(ctx, lead.ID)
	if err != nil {
		return repository.ComputedState{}, apperr.Transient("score history load failed", err).WithOp(op)
	}
	signals, err := s.store.ListIntentSignals(ctx, lead.ID)
	if err != nil {
		return repository.ComputedState{}, apperr.Transient("intent signals load failed", err).WithOp(op)
	}

	components := scoring.RecomputeComponents(history, set.Scoring.Bounds, at)
	states := intent.RecomputeFromLedger(signals, at, set.Intent)
	primary, confidence := intent.Derive(states, set.Intent)

	return repository.ComputedState{
		LeadID:           lead.ID,
		ExpectedVersion:  lead.Version,
		Scores:           components,
		TotalScore:       components.Total(),
		PrimaryIntent:    primary,
		IntentConfidence: confidence,
		IntentSums:       states,
		IntentSumsAsOf:   at,
		MaterializedAt:   at,
	}, nil
}

// StaleLeadIDs lists the next sweep batch: leads whose materialized score is
// older than the configured decay window.
func (s *Service) StaleLeadIDs(ctx context.Context) ([]uuid.UUID, error) {
	cutoff := s.now().Add(-s.opts.DecayWindow)
	ids, err := s.store.ListStaleLeadIDs(ctx, cutoff, s.opts.DecayBatchSize)
	if err != nil {
		return nil, apperr.Transient("stale lead scan failed", err).WithOp("leads.StaleLeadIDs")
	}
	return ids, nil
}

// CategoryView is the decayed read-time view of one intent category.
type CategoryView struct {
	Sum          float64
	Confidence   int
	LastSignalAt time.Time
}

// IntentView is the response shape for GET /leads/:id/intent.
type IntentView struct {
	Primary    *string
	Confidence int
	Categories map[string]CategoryView
	AsOf       time.Time
}

// GetIntent returns the lead's intent state decayed to now. Read-only: the
// persisted sums advance without being written back.
func (s *Service) GetIntent(ctx context.Context, leadID uuid.UUID) (IntentView, error) {
	const op = "leads.GetIntent"

	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return IntentView{}, apperr.NotFound("lead not found").WithOp(op)
		}
		return IntentView{}, apperr.Transient("lead load failed", err).WithOp(op)
	}

	set := s.rules.Current()
	now := s.now()
	states := intent.Apply(lead.IntentSums, lead.IntentSumsAsOf, nil, now, set.Intent)
	primary, confidence := intent.Derive(states, set.Intent)

	view := IntentView{
		Primary:    primary,
		Confidence: confidence,
		Categories: make(map[string]CategoryView, len(states)),
		AsOf:       now,
	}
	for category, state := range states {
		view.Categories[category] = CategoryView{
			Sum:          state.Sum,
			Confidence:   intent.Confidence(state.Sum, set.Intent),
			LastSignalAt: state.LastSignalAt,
		}
	}
	return view, nil
}

// RunAutomations evaluates one trigger against the lead's current state and
// queues the resulting actions through the outbox. Used by the manual
// automations endpoint; idempotency keys make repeated runs of the same lead
// version no-ops downstream.
func (s *Service) RunAutomations(ctx context.Context, leadID uuid.UUID, trigger automation.TriggerType) ([]automation.Action, error) {
	const op = "leads.RunAutomations"

	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("lead not found").WithOp(op)
		}
		return nil, apperr.Transient("lead load failed", err).WithOp(op)
	}

	now := s.now()
	trigCtx := automation.TriggerContext{
		Type:           trigger,
		PreviousScore:  lead.TotalScore,
		NewScore:       lead.TotalScore,
		InactivityDays: int(now.Sub(lead.LastActivityAt).Hours() / 24),
		Version:        versionTag(string(trigger), lead.Version),
	}
	if lead.Stage != nil {
		trigCtx.Stage = *lead.Stage
	}
	if trigger == automation.TriggerScoreCrossed {
		// A forced crossing check treats the current score as freshly reached.
		trigCtx.PreviousScore = 0
	}

	actions := s.automations.Evaluate(lead, trigCtx, s.rules.Current().Automation)
	if len(actions) == 0 {
		return actions, nil
	}
	if err := s.store.InsertOutbox(ctx, actionMessages(actions, now)); err != nil {
		return nil, apperr.Transient("outbox write failed", err).WithOp(op)
	}
	return actions, nil
}
