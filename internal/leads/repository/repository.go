// Package repository persists the lead aggregate, the append-only score and
// intent ledgers, and the routing artifacts (deals, owners, outbox). Every
// lead mutation goes through an optimistic version check.
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
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/leads/domain"
)

var (
	ErrNotFound = errors.New("lead not found")
	// ErrVersionConflict means the lead row changed under us; the caller must
	// reload and re-evaluate.
	ErrVersionConflict = errors.New("lead version conflict")
	// ErrDealExists means an open deal already exists for the lead and pipeline.
	ErrDealExists = errors.New("open deal already exists")
	// ErrOwnerAtCapacity means the chosen owner filled up between selection and
	// assignment.
	ErrOwnerAtCapacity = errors.New("owner at capacity")
)

const pgUniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const leadColumns = `id, email, phone, portal_id, campaign_id, social_url, region, attributes,
		demographic_score, engagement_score, behavior_score, total_score,
		primary_intent, intent_confidence, intent_sums, intent_sums_as_of,
		routing_status, pipeline, stage, owner_id, version,
		score_materialized_at, created_at, last_activity_at`

func scanLead(row pgx.Row) (*domain.Lead, error) {
	var (
		lead       domain.Lead
		attributes []byte
		intentSums []byte
		status     string
	)
	err := row.Scan(
		&lead.ID, &lead.Email, &lead.Phone, &lead.PortalID, &lead.CampaignID, &lead.SocialURL, &lead.Region, &attributes,
		&lead.Scores.Demographic, &lead.Scores.Engagement, &lead.Scores.Behavior, &lead.TotalScore,
		&lead.PrimaryIntent, &lead.IntentConfidence, &intentSums, &lead.IntentSumsAsOf,
		&status, &lead.Pipeline, &lead.Stage, &lead.OwnerID, &lead.Version,
		&lead.ScoreMaterializedAt, &lead.CreatedAt, &lead.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}
	lead.RoutingStatus = domain.RoutingStatus(status)

	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &lead.Attributes); err != nil {
			return nil, fmt.Errorf("decode lead attributes: %w", err)
		}
	}
	if len(intentSums) > 0 {
		if err := json.Unmarshal(intentSums, &lead.IntentSums); err != nil {
			return nil, fmt.Errorf("decode intent sums: %w", err)
		}
	}
	if lead.Attributes == nil {
		lead.Attributes = map[string]string{}
	}
	if lead.IntentSums == nil {
		lead.IntentSums = map[string]domain.IntentCategoryState{}
	}
	return &lead, nil
}

func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lead, err
}

// identifierColumn maps a resolution kind to its lookup predicate.
func identifierPredicate(kind domain.IdentifierKind) string {
	switch kind {
	case domain.IdentifierEmail:
		return "lower(email) = $1"
	case domain.IdentifierPortalID:
		return "portal_id = $1"
	case domain.IdentifierCampaign:
		return "campaign_id = $1"
	case domain.IdentifierSocial:
		return "social_url = $1"
	default:
		return "phone = $1"
	}
}

// FindByIdentifiers tries each identifier in resolution priority order and
// returns the first lead that matches.
func (r *Repository) FindByIdentifiers(ctx context.Context, ids domain.IdentifierSet) (*domain.Lead, error) {
	for _, kind := range domain.ResolutionPriority {
		value := ids.Get(kind)
		if value == "" {
			continue
		}
		lead, err := scanLead(r.pool.QueryRow(ctx,
			`SELECT `+leadColumns+` FROM leads WHERE `+identifierPredicate(kind)+` ORDER BY created_at ASC LIMIT 1`, value))
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return lead, nil
	}
	return nil, ErrNotFound
}

// ResolveOrCreate finds the lead matching the identifier set or creates one.
// The bool reports whether a new lead was created. A create racing another
// writer on the unique email index falls back to a fresh lookup.
func (r *Repository) ResolveOrCreate(ctx context.Context, ids domain.IdentifierSet, attributes map[string]string) (*domain.Lead, bool, error) {
	lead, err := r.FindByIdentifiers(ctx, ids)
	if err == nil {
		return lead, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if attributes == nil {
		attributes = map[string]string{}
	}
	attrJSON, err := json.Marshal(attributes)
	if err != nil {
		return nil, false, fmt.Errorf("encode lead attributes: %w", err)
	}

	lead, err = scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (email, phone, portal_id, campaign_id, social_url, region, attributes)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
		RETURNING `+leadColumns+`
	`,
		ids.Get(domain.IdentifierEmail), ids.Get(domain.IdentifierPhone), ids.Get(domain.IdentifierPortalID),
		ids.Get(domain.IdentifierCampaign), ids.Get(domain.IdentifierSocial), ids.Region, attrJSON,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			existing, findErr := r.FindByIdentifiers(ctx, ids)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return lead, true, nil
}

// SetAttribute writes one attribute key on a lead. Used by the update_field
// automation action; it does not touch scored state so no version bump.
func (r *Repository) SetAttribute(ctx context.Context, leadID uuid.UUID, field, value string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET attributes = attributes || jsonb_build_object($2::text, $3::text)
		WHERE id = $1
	`, leadID, field, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type CreateEventParams struct {
	LeadID     uuid.UUID
	Type       string
	Category   string
	Source     string
	OccurredAt time.Time
	Metadata   map[string]string
}

func (r *Repository) InsertEvent(ctx context.Context, params CreateEventParams) (domain.Event, error) {
	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return domain.Event{}, fmt.Errorf("encode event metadata: %w", err)
	}

	var ev domain.Event
	var rawMeta []byte
	err = r.pool.QueryRow(ctx, `
		INSERT INTO events (lead_id, type, category, source, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, lead_id, type, category, source, occurred_at, metadata, created_at
	`, params.LeadID, params.Type, params.Category, params.Source, params.OccurredAt, metaJSON).Scan(
		&ev.ID, &ev.LeadID, &ev.Type, &ev.Category, &ev.Source, &ev.OccurredAt, &rawMeta, &ev.CreatedAt,
	)
	if err != nil {
		return domain.Event{}, err
	}
	if err := json.Unmarshal(rawMeta, &ev.Metadata); err != nil {
		return domain.Event{}, fmt.Errorf("decode event metadata: %w", err)
	}
	return ev, nil
}

func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	var ev domain.Event
	var rawMeta []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, lead_id, type, category, source, occurred_at, metadata, created_at
		FROM events WHERE id = $1
	`, id).Scan(&ev.ID, &ev.LeadID, &ev.Type, &ev.Category, &ev.Source, &ev.OccurredAt, &rawMeta, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, ErrNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}
	if err := json.Unmarshal(rawMeta, &ev.Metadata); err != nil {
		return domain.Event{}, fmt.Errorf("decode event metadata: %w", err)
	}
	return ev, nil
}
