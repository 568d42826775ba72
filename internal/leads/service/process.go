package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"leadflow_backend/internal/automation"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/intent"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/scoring"
	"leadflow_backend/platform/apperr"
)

// ProcessEvent scores one ingested event against the current rule sets and
// persists the outcome. It is the worker's main entry point and is safe to
// retry: a replayed event is detected on the ledger and discarded, and a
// version conflict reloads the lead and evaluates again.
func (s *Service) ProcessEvent(ctx context.Context, leadID, eventID uuid.UUID) error {
	const op = "leads.ProcessEvent"

	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("event no longer exists").WithOp(op)
		}
		return apperr.Transient("event load failed", err).WithOp(op)
	}
	if ev.LeadID != leadID {
		return apperr.Poison("event does not belong to lead", nil).WithOp(op)
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		lead, err := s.store.GetLead(ctx, leadID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Lead deleted mid-flight (GDPR or merge): discard silently.
				return apperr.NotFound("lead no longer exists").WithOp(op)
			}
			return apperr.Transient("lead load failed", err).WithOp(op)
		}

		set := s.rules.Current()
		now := s.now()

		deltas, err := s.scorer.Score(ctx, lead, ev, set.Scoring)
		if err != nil {
			return err
		}
		signals := s.detector.Detect(lead, ev, set.Intent)

		history, err := s.store.ListScoreHistory(ctx, leadID)
		if err != nil {
			return apperr.Transient("score history load failed", err).WithOp(op)
		}
		ledgerSignals, err := s.store.ListIntentSignals(ctx, leadID)
		if err != nil {
			return apperr.Transient("intent signals load failed", err).WithOp(op)
		}

		// Recompute from the full ledger plus the new entries. Replaying the
		// ledger makes the result independent of event processing order and
		// keeps this path in lockstep with the decay sweep.
		for _, delta := range deltas {
			history = append(history, scoring.LedgerEntry{
				Dimension: delta.Dimension,
				Amount:    delta.Amount,
				RuleID:    delta.RuleID,
				Decay:     delta.Decay,
				CreatedAt: ev.OccurredAt,
			})
		}
		for _, sig := range signals {
			ledgerSignals = append(ledgerSignals, intent.LedgerSignal{
				Category:  sig.Category,
				Weight:    sig.Weight,
				CreatedAt: ev.OccurredAt,
			})
		}

		components := scoring.RecomputeComponents(history, set.Scoring.Bounds, now)
		states := intent.RecomputeFromLedger(ledgerSignals, now, set.Intent)
		primary, confidence := intent.Derive(states, set.Intent)

		outcome := repository.EventOutcome{
			State: repository.ComputedState{
				LeadID:           leadID,
				ExpectedVersion:  lead.Version,
				Scores:           components,
				TotalScore:       components.Total(),
				PrimaryIntent:    primary,
				IntentConfidence: confidence,
				IntentSums:       states,
				IntentSumsAsOf:   now,
				MaterializedAt:   now,
			},
			EventID:    ev.ID,
			OccurredAt: ev.OccurredAt,
			Deltas:     deltas,
			Signals:    signals,
		}

		// score_crossed automations ride the same transaction.
		after := *lead
		after.Scores = components
		after.TotalScore = components.Total()
		actions := s.automations.Evaluate(&after, automation.TriggerContext{
			Type:          automation.TriggerScoreCrossed,
			PreviousScore: lead.TotalScore,
			NewScore:      after.TotalScore,
			Version:       versionTag("score", lead.Version),
		}, set.Automation)
		outcome.Outbox = actionMessages(actions, now)

		applied, err := s.store.ApplyEventOutcome(ctx, outcome)
		if err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return storeErr(op, "event outcome write failed", err)
		}
		if !applied {
			if s.log != nil {
				s.log.WithLead(leadID.String()).Info("event already applied, discarding replay", "eventId", ev.ID)
			}
			// Still chase routing: the first application may have died before
			// the follow-up enqueue.
			s.maybeEnqueueRouting(ctx, lead)
			return nil
		}

		if s.bus != nil {
			s.bus.Publish(ctx, events.LeadScored{
				BaseEvent:        events.NewBaseEvent(),
				LeadID:           leadID,
				TotalScore:       after.TotalScore,
				PreviousScore:    lead.TotalScore,
				PrimaryIntent:    primary,
				IntentConfidence: confidence,
			})
		}

		after.PrimaryIntent = primary
		after.IntentConfidence = confidence
		s.maybeEnqueueRouting(ctx, &after)
		return nil
	}

	return apperr.Conflict("lead version conflict persisted across retries").WithOp(op)
}

// maybeEnqueueRouting schedules a routing evaluation when the lead's state
// warrants one: freshly eligible, or pending and waiting for owner capacity.
// Routing evaluation is idempotent, so enqueueing eagerly is safe. Enqueue
// failures are logged, not fatal: the next event or sweep tries again.
func (s *Service) maybeEnqueueRouting(ctx context.Context, lead *domain.Lead) {
	cfg := s.rules.Current().Routing
	if !eligible(lead, cfg) && lead.RoutingStatus != domain.RoutingStatusPending {
		return
	}
	if err := s.enqueuer.EnqueueRoutingEvaluation(ctx, lead.ID); err != nil && s.log != nil {
		s.log.WithLead(lead.ID.String()).Warn("routing evaluation enqueue failed", "error", err)
	}
}
