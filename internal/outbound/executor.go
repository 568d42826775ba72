package outbound

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"leadflow_backend/internal/automation"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// NotificationSender delivers one notification.
type NotificationSender interface {
	Notify(ctx context.Context, toEmail, toName, template string, payload map[string]string) error
}

// ExternalSyncer pushes a lead snapshot to an external system.
type ExternalSyncer interface {
	Sync(ctx context.Context, leadID string, payload map[string]string) error
}

// LeadFields writes lead attributes for the update_field action.
type LeadFields interface {
	SetAttribute(ctx context.Context, leadID uuid.UUID, field, value string) error
}

// Executor runs one claimed outbox row. It implements the worker's Outbound
// interface; errors come back through the taxonomy so the queue can decide
// between retry, discard, and dead-letter.
type Executor struct {
	repo     *Repository
	notifier NotificationSender
	finance  ExternalSyncer
	leads    LeadFields
	log      *logger.Logger
}

func NewExecutor(repo *Repository, notifier NotificationSender, finance ExternalSyncer, leads LeadFields, log *logger.Logger) *Executor {
	return &Executor{
		repo:     repo,
		notifier: notifier,
		finance:  finance,
		leads:    leads,
		log:      log,
	}
}

func (e *Executor) Execute(ctx context.Context, outboxID uuid.UUID) error {
	const op = "outbound.Execute"

	rec, err := e.repo.GetByID(ctx, outboxID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("outbox record vanished").WithOp(op)
		}
		return apperr.Transient("outbox load failed", err).WithOp(op)
	}
	if rec.Status == StatusSucceeded {
		return nil
	}

	payload, err := rec.DecodedPayload()
	if err != nil {
		_ = e.repo.RecordFailure(ctx, rec.ID, "malformed payload: "+err.Error(), true)
		return apperr.Poison("malformed outbox payload", err).WithOp(op)
	}

	if err := e.run(ctx, rec, payload); err != nil {
		if apperr.GetKind(err) == apperr.KindPoison {
			_ = e.repo.RecordFailure(ctx, rec.ID, err.Error(), true)
			return err
		}
		_ = e.repo.RecordFailure(ctx, rec.ID, err.Error(), false)
		return apperr.Transient("outbound action failed", err).WithOp(op)
	}

	if err := e.repo.MarkSucceeded(ctx, rec.ID); err != nil {
		return apperr.Transient("outbox status update failed", err).WithOp(op)
	}
	return nil
}

func (e *Executor) run(ctx context.Context, rec Record, payload map[string]string) error {
	switch automation.ActionType(rec.ActionType) {
	case automation.ActionCreateTask:
		title := payload["title"]
		if title == "" {
			title = "Follow up on lead"
		}
		var ownerID *uuid.UUID
		if raw := payload["ownerId"]; raw != "" {
			if parsed, err := uuid.Parse(raw); err == nil {
				ownerID = &parsed
			}
		}
		return e.repo.InsertTask(ctx, rec.LeadID, ownerID, title, nil, rec.IdempotencyKey)

	case automation.ActionSendNotification:
		raw := payload["ownerId"]
		if raw == "" {
			// Nothing to address the notification to; routed-without-owner
			// paths legitimately end up here.
			e.log.Info("notification without owner, dropping", "leadId", rec.LeadID, "template", payload["template"])
			return nil
		}
		ownerID, err := uuid.Parse(raw)
		if err != nil {
			return apperr.Poison("malformed owner id in payload", err)
		}
		name, email, err := e.repo.OwnerContact(ctx, ownerID)
		if errors.Is(err, ErrNotFound) {
			e.log.Warn("notification owner vanished, dropping", "ownerId", ownerID)
			return nil
		}
		if err != nil {
			return err
		}
		return e.notifier.Notify(ctx, email, name, payload["template"], payload)

	case automation.ActionUpdateField:
		field := payload["field"]
		if field == "" {
			return apperr.Poison("update_field action without field", nil)
		}
		return e.leads.SetAttribute(ctx, rec.LeadID, field, payload["value"])

	case automation.ActionSyncExternal:
		return e.finance.Sync(ctx, rec.LeadID.String(), payload)

	default:
		return apperr.Poison("unknown outbox action type "+rec.ActionType, nil)
	}
}
