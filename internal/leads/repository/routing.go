package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/routing"
)

// OutboxMessage is one outbound action intent written inside the same
// transaction as the state change that requested it.
type OutboxMessage struct {
	LeadID         uuid.UUID
	ActionType     string
	Payload        map[string]string
	IdempotencyKey string
	RunAt          time.Time
}

// ListActiveOwners returns every active owner, load included, for the
// router's least-loaded selection.
func (r *Repository) ListActiveOwners(ctx context.Context) ([]routing.Owner, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, region, max_leads, current_leads
		FROM owners WHERE active = true
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := make([]routing.Owner, 0)
	for rows.Next() {
		var owner routing.Owner
		if err := rows.Scan(&owner.ID, &owner.Name, &owner.Email, &owner.Region, &owner.MaxLeads, &owner.CurrentLeads); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// RouteParams is the atomic routing write: lead transition, deal creation,
// owner load bump, and the outbox rows announcing it.
type RouteParams struct {
	LeadID          uuid.UUID
	ExpectedVersion int64
	Status          domain.RoutingStatus
	Pipeline        string
	Stage           string
	OwnerID         *uuid.UUID
	Outbox          []OutboxMessage
}

// CreateDealAndRoute opens the deal and moves the lead in one transaction.
// The partial unique index on open deals is the backstop against a second
// writer slipping past the lease: a duplicate surfaces as ErrDealExists.
func (r *Repository) CreateDealAndRoute(ctx context.Context, params RouteParams) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.transitionLead(ctx, tx, params.LeadID, params.ExpectedVersion, params.Status, &params.Pipeline, &params.Stage, params.OwnerID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO deals (lead_id, pipeline, stage, owner_id)
		VALUES ($1, $2, $3, $4)
	`, params.LeadID, params.Pipeline, params.Stage, params.OwnerID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDealExists
		}
		return err
	}

	if params.OwnerID != nil {
		if err := incrementOwnerLoad(ctx, tx, *params.OwnerID); err != nil {
			return err
		}
	}
	if err := insertOutboxTx(ctx, tx, params.Outbox); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// OverrideRouteParams is the atomic manual reroute: open deals in other
// pipelines close, the target pipeline's deal is created or moved in place,
// and owner load follows the reassignment.
type OverrideRouteParams struct {
	LeadID          uuid.UUID
	ExpectedVersion int64
	Status          domain.RoutingStatus
	Pipeline        string
	Stage           string
	OwnerID         *uuid.UUID
	PreviousOwnerID *uuid.UUID
	Outbox          []OutboxMessage
}

// OverrideDealAndRoute applies a manual override to a lead that may already
// hold an open deal. Unlike CreateDealAndRoute it upserts against the partial
// unique index, so an existing open deal in the target pipeline is updated
// instead of surfacing ErrDealExists. Capacity checks do not apply here; a
// manual assignment wins even against a full owner.
func (r *Repository) OverrideDealAndRoute(ctx context.Context, params OverrideRouteParams) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.transitionLead(ctx, tx, params.LeadID, params.ExpectedVersion, params.Status, &params.Pipeline, &params.Stage, params.OwnerID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE deals SET status = 'closed'
		WHERE lead_id = $1 AND status = 'open' AND pipeline <> $2
	`, params.LeadID, params.Pipeline)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO deals (lead_id, pipeline, stage, owner_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (lead_id, pipeline) WHERE status = 'open'
		DO UPDATE SET stage = EXCLUDED.stage, owner_id = EXCLUDED.owner_id
	`, params.LeadID, params.Pipeline, params.Stage, params.OwnerID)
	if err != nil {
		return err
	}

	if err := moveOwnerLoad(ctx, tx, params.PreviousOwnerID, params.OwnerID); err != nil {
		return err
	}
	if err := insertOutboxTx(ctx, tx, params.Outbox); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ResetRouting returns a lead to unrouted: open deals close, the assigned
// owner's load is released, and the destination fields are cleared under the
// version check.
func (r *Repository) ResetRouting(ctx context.Context, leadID uuid.UUID, expectedVersion int64, ownerID *uuid.UUID) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE leads SET
			routing_status = 'unrouted',
			pipeline = NULL, stage = NULL, owner_id = NULL,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, leadID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return r.missReason(ctx, leadID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE deals SET status = 'closed'
		WHERE lead_id = $1 AND status = 'open'
	`, leadID)
	if err != nil {
		return err
	}

	if err := moveOwnerLoad(ctx, tx, ownerID, nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AssignPendingDeal gives a previously unassigned open deal its owner and
// moves the lead from pending to routed.
func (r *Repository) AssignPendingDeal(ctx context.Context, leadID uuid.UUID, expectedVersion int64, ownerID uuid.UUID, outbox []OutboxMessage) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.transitionLead(ctx, tx, leadID, expectedVersion, domain.RoutingStatusRouted, nil, nil, &ownerID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE deals SET owner_id = $2
		WHERE lead_id = $1 AND status = 'open' AND owner_id IS NULL
	`, leadID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	if err := incrementOwnerLoad(ctx, tx, ownerID); err != nil {
		return err
	}
	if err := insertOutboxTx(ctx, tx, outbox); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateRoutingStatus moves the lead's routing status without touching deals,
// e.g. into manual_review when no pipeline mapping exists.
func (r *Repository) UpdateRoutingStatus(ctx context.Context, leadID uuid.UUID, expectedVersion int64, status domain.RoutingStatus) error {
	if !domain.IsKnownRoutingStatus(status) {
		return fmt.Errorf("unknown routing status %q", status)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET routing_status = $3, version = version + 1
		WHERE id = $1 AND version = $2
	`, leadID, expectedVersion, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missReason(ctx, leadID)
}

// transitionLead is the shared versioned update for routing transitions.
// Pipeline and stage pointers are only written when non-nil.
func (r *Repository) transitionLead(ctx context.Context, tx pgx.Tx, leadID uuid.UUID, expectedVersion int64, status domain.RoutingStatus, pipeline, stage *string, ownerID *uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE leads SET
			routing_status = $3,
			pipeline = COALESCE($4, pipeline),
			stage = COALESCE($5, stage),
			owner_id = COALESCE($6, owner_id),
			version = version + 1
		WHERE id = $1 AND version = $2
	`, leadID, expectedVersion, string(status), pipeline, stage, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missReason(ctx, leadID)
}

// missReason distinguishes a vanished lead from a concurrent write after a
// guarded update touched no rows.
func (r *Repository) missReason(ctx context.Context, leadID uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, leadID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func incrementOwnerLoad(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE owners SET current_leads = current_leads + 1
		WHERE id = $1 AND active = true AND current_leads < max_leads
	`, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOwnerAtCapacity
	}
	return nil
}

// moveOwnerLoad shifts one unit of load between owners when an assignment
// changes hands. Either side may be nil; a same-owner move is a no-op.
func moveOwnerLoad(ctx context.Context, tx pgx.Tx, previous, next *uuid.UUID) error {
	if previous != nil && next != nil && *previous == *next {
		return nil
	}
	if previous != nil {
		_, err := tx.Exec(ctx, `
			UPDATE owners SET current_leads = GREATEST(current_leads - 1, 0)
			WHERE id = $1
		`, *previous)
		if err != nil {
			return err
		}
	}
	if next != nil {
		_, err := tx.Exec(ctx, `
			UPDATE owners SET current_leads = current_leads + 1
			WHERE id = $1
		`, *next)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertOutboxTx(ctx context.Context, tx pgx.Tx, messages []OutboxMessage) error {
	for _, msg := range messages {
		payload := msg.Payload
		if payload == nil {
			payload = map[string]string{}
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode outbox payload: %w", err)
		}
		runAt := msg.RunAt
		if runAt.IsZero() {
			runAt = time.Now().UTC()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO outbox (lead_id, action_type, payload, idempotency_key, run_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, msg.LeadID, msg.ActionType, payloadJSON, msg.IdempotencyKey, runAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertOutbox writes outbox rows outside any lead transition, e.g. for a
// manually triggered automation run. Duplicate idempotency keys are no-ops.
func (r *Repository) InsertOutbox(ctx context.Context, messages []OutboxMessage) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertOutboxTx(ctx, tx, messages); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
