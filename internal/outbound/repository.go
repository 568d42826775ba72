// Package outbound drains the transactional outbox and executes the side
// effects it carries: owner notifications over SMTP, finance synchronization
// over HTTP, task creation, and lead field updates. Everything here is
// idempotent on the outbox row's key.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusEnqueued  Status = "enqueued"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var ErrNotFound = errors.New("outbox record not found")

// Record is one outbound action intent.
type Record struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	ActionType     string
	Payload        json.RawMessage
	IdempotencyKey string
	RunAt          time.Time
	Status         Status
	Attempts       int
	LastError      *string
}

// DecodedPayload unmarshals the payload's flat string map.
func (r Record) DecodedPayload() (map[string]string, error) {
	payload := map[string]string{}
	if len(r.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	var rec Record
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, lead_id, action_type, payload, idempotency_key, run_at, status, attempts, last_error
		FROM outbox WHERE id = $1
	`, id).Scan(&rec.ID, &rec.LeadID, &rec.ActionType, &rec.Payload, &rec.IdempotencyKey, &rec.RunAt, &status, &rec.Attempts, &rec.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// ClaimPending flips due pending rows to enqueued and returns them. SKIP
// LOCKED keeps concurrent dispatchers from claiming the same rows.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM outbox
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE outbox o
	SET status = 'enqueued'
	FROM cte
	WHERE o.id = cte.id
	RETURNING o.id, o.lead_id, o.action_type, o.payload, o.idempotency_key, o.run_at, o.status, o.attempts, o.last_error`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.ID, &rec.LeadID, &rec.ActionType, &rec.Payload, &rec.IdempotencyKey, &rec.RunAt, &status, &rec.Attempts, &rec.LastError); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		results = append(results, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// MarkPending puts a row back in the dispatcher's queue, recording why.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'pending', last_error = $2 WHERE id = $1
	`, id, lastError)
	return err
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'succeeded', attempts = attempts + 1, last_error = NULL WHERE id = $1
	`, id)
	return err
}

// RecordFailure bumps the attempt counter; terminal failures flip the status
// so the row stops being retried.
func (r *Repository) RecordFailure(ctx context.Context, id uuid.UUID, message string, terminal bool) error {
	status := StatusEnqueued
	if terminal {
		status = StatusFailed
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = $2, attempts = attempts + 1, last_error = $3 WHERE id = $1
	`, id, string(status), message)
	return err
}

// InsertTask creates a follow-up task row. The idempotency key makes a
// replayed create_task action a no-op.
func (r *Repository) InsertTask(ctx context.Context, leadID uuid.UUID, ownerID *uuid.UUID, title string, dueAt *time.Time, idempotencyKey string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (lead_id, owner_id, title, due_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, leadID, ownerID, title, dueAt, idempotencyKey)
	return err
}

// OwnerContact looks up the notification target for an owner.
func (r *Repository) OwnerContact(ctx context.Context, ownerID uuid.UUID) (name, email string, err error) {
	err = r.pool.QueryRow(ctx, `SELECT name, email FROM owners WHERE id = $1`, ownerID).Scan(&name, &email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return name, email, err
}
