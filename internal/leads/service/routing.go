package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"leadflow_backend/internal/automation"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/routing"
	"leadflow_backend/platform/apperr"
)

// EvaluateRouting runs the routing decision for one lead and persists it.
// Safe to call repeatedly: a routed lead yields a no-op decision. A non-nil
// override routes regardless of thresholds.
func (s *Service) EvaluateRouting(ctx context.Context, leadID uuid.UUID, override *routing.ManualOverride) (routing.Decision, error) {
	const op = "leads.EvaluateRouting"

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		lead, err := s.store.GetLead(ctx, leadID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return routing.Decision{}, apperr.NotFound("lead no longer exists").WithOp(op)
			}
			return routing.Decision{}, apperr.Transient("lead load failed", err).WithOp(op)
		}

		set := s.rules.Current()
		owners, err := s.store.ListActiveOwners(ctx)
		if err != nil {
			return routing.Decision{}, apperr.Transient("owner load failed", err).WithOp(op)
		}

		decision := routing.Evaluate(lead, owners, set.Routing, override)

		// The status only moves forward; a manual override may additionally
		// jump to routed from anywhere.
		if decision.Kind != routing.KindNone &&
			!domain.CanTransition(lead.RoutingStatus, decision.Status, override != nil) {
			return routing.Decision{}, apperr.Conflict(
				fmt.Sprintf("routing status cannot move from %s to %s", lead.RoutingStatus, decision.Status),
			).WithOp(op)
		}

		switch decision.Kind {
		case routing.KindNone:
			return decision, nil

		case routing.KindManualReview:
			err := s.store.UpdateRoutingStatus(ctx, leadID, lead.Version, domain.RoutingStatusManualReview)
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			if err != nil {
				return routing.Decision{}, storeErr(op, "manual review transition failed", err)
			}
			if s.log != nil {
				s.log.WithLead(leadID.String()).Warn("lead flagged for manual review", "reason", decision.Reason)
			}
			return decision, nil

		case routing.KindAssign:
			// The pending deal already carries pipeline and stage.
			if lead.Pipeline != nil {
				decision.Pipeline = *lead.Pipeline
			}
			if lead.Stage != nil {
				decision.Stage = *lead.Stage
			}
			outbox := s.routedOutbox(lead, decision, set.Automation, false)
			err := s.store.AssignPendingDeal(ctx, leadID, lead.Version, *decision.OwnerID, outbox)
			if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrOwnerAtCapacity) {
				continue
			}
			if err != nil {
				return routing.Decision{}, storeErr(op, "pending deal assignment failed", err)
			}
			s.publishRouted(ctx, lead, decision)
			return decision, nil

		case routing.KindRoute:
			outbox := s.routedOutbox(lead, decision, set.Automation, true)
			if override != nil {
				// The override path upserts: an existing open deal moves to
				// the override destination instead of blocking creation.
				err := s.store.OverrideDealAndRoute(ctx, repository.OverrideRouteParams{
					LeadID:          leadID,
					ExpectedVersion: lead.Version,
					Status:          decision.Status,
					Pipeline:        decision.Pipeline,
					Stage:           decision.Stage,
					OwnerID:         decision.OwnerID,
					PreviousOwnerID: lead.OwnerID,
					Outbox:          outbox,
				})
				if errors.Is(err, repository.ErrVersionConflict) {
					continue
				}
				if err != nil {
					return routing.Decision{}, storeErr(op, "manual reroute failed", err)
				}
				s.publishRouted(ctx, lead, decision)
				return decision, nil
			}
			err := s.store.CreateDealAndRoute(ctx, repository.RouteParams{
				LeadID:          leadID,
				ExpectedVersion: lead.Version,
				Status:          decision.Status,
				Pipeline:        decision.Pipeline,
				Stage:           decision.Stage,
				OwnerID:         decision.OwnerID,
				Outbox:          outbox,
			})
			if errors.Is(err, repository.ErrVersionConflict) ||
				errors.Is(err, repository.ErrOwnerAtCapacity) ||
				errors.Is(err, repository.ErrDealExists) {
				// Another writer got there first; re-evaluate from scratch.
				continue
			}
			if err != nil {
				return routing.Decision{}, storeErr(op, "deal creation failed", err)
			}
			s.publishRouted(ctx, lead, decision)
			return decision, nil
		}
	}

	return routing.Decision{}, apperr.Conflict("routing raced concurrent writers past retry budget").WithOp(op)
}

// ResetRouting is the manual escape hatch out of the forward-only status
// machine: the lead returns to unrouted, its open deals close, and the next
// evaluation starts from scratch.
func (s *Service) ResetRouting(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error) {
	const op = "leads.ResetRouting"

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		lead, err := s.store.GetLead(ctx, leadID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.NotFound("lead not found").WithOp(op)
			}
			return nil, apperr.Transient("lead load failed", err).WithOp(op)
		}
		if lead.RoutingStatus == domain.RoutingStatusUnrouted {
			return lead, nil
		}

		err = s.store.ResetRouting(ctx, leadID, lead.Version, lead.OwnerID)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, storeErr(op, "routing reset failed", err)
		}
		if s.log != nil {
			s.log.WithLead(leadID.String()).Info("routing reset", "from", string(lead.RoutingStatus))
		}
		return s.GetLead(ctx, leadID)
	}

	return nil, apperr.Conflict("routing reset raced concurrent writers past retry budget").WithOp(op)
}

// routedOutbox collects the outbox rows a routing transition produces: the
// stage_entered automation actions plus, when an owner was assigned, the
// owner notification.
func (s *Service) routedOutbox(lead *domain.Lead, decision routing.Decision, cfg automation.Config, stageEntered bool) []repository.OutboxMessage {
	now := s.now()
	messages := make([]repository.OutboxMessage, 0, 4)

	if stageEntered {
		actions := s.automations.Evaluate(lead, automation.TriggerContext{
			Type:    automation.TriggerStageEntered,
			Stage:   decision.Stage,
			Version: versionTag("stage:"+decision.Stage, lead.Version),
		}, cfg)
		messages = append(messages, actionMessages(actions, now)...)
	}

	if decision.OwnerID != nil {
		messages = append(messages, repository.OutboxMessage{
			LeadID:     lead.ID,
			ActionType: string(automation.ActionSendNotification),
			Payload: map[string]string{
				"template": "lead_assigned",
				"ownerId":  decision.OwnerID.String(),
				"pipeline": decision.Pipeline,
				"stage":    decision.Stage,
			},
			IdempotencyKey: automation.IdempotencyKey(lead.ID, "owner_notification", 0, versionTag("route", lead.Version)),
			RunAt:          now,
		})
	}
	return messages
}

func (s *Service) publishRouted(ctx context.Context, lead *domain.Lead, decision routing.Decision) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.LeadRouted{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		Pipeline:  decision.Pipeline,
		Stage:     decision.Stage,
		OwnerID:   decision.OwnerID,
	})
}
