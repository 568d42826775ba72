// Package service orchestrates the lead lifecycle: identity resolution, event
// scoring and intent detection, routing evaluation, automation runs, and the
// decay sweep. Every mutation goes through the repository's optimistic
// version check; a conflict triggers a full re-evaluation.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/automation"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/intent"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/routing"
	"leadflow_backend/internal/rules"
	"leadflow_backend/internal/scoring"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
)

// maxConflictRetries bounds the reload-and-reevaluate loop when optimistic
// version checks keep failing. Past this the job goes back to the queue.
const maxConflictRetries = 5

// Store is the persistence surface the service needs. Implemented by
// *repository.Repository; tests substitute a fake.
type Store interface {
	GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	ResolveOrCreate(ctx context.Context, ids domain.IdentifierSet, attributes map[string]string) (*domain.Lead, bool, error)
	InsertEvent(ctx context.Context, params repository.CreateEventParams) (domain.Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)

	CountRuleFirings(ctx context.Context, leadID string, ruleID string, since time.Time) (int, error)
	ListScoreHistory(ctx context.Context, leadID uuid.UUID) ([]scoring.LedgerEntry, error)
	ListIntentSignals(ctx context.Context, leadID uuid.UUID) ([]intent.LedgerSignal, error)
	ApplyEventOutcome(ctx context.Context, outcome repository.EventOutcome) (bool, error)
	MaterializeScores(ctx context.Context, state repository.ComputedState) error
	ListStaleLeadIDs(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)

	ListActiveOwners(ctx context.Context) ([]routing.Owner, error)
	CreateDealAndRoute(ctx context.Context, params repository.RouteParams) error
	OverrideDealAndRoute(ctx context.Context, params repository.OverrideRouteParams) error
	AssignPendingDeal(ctx context.Context, leadID uuid.UUID, expectedVersion int64, ownerID uuid.UUID, outbox []repository.OutboxMessage) error
	UpdateRoutingStatus(ctx context.Context, leadID uuid.UUID, expectedVersion int64, status domain.RoutingStatus) error
	ResetRouting(ctx context.Context, leadID uuid.UUID, expectedVersion int64, ownerID *uuid.UUID) error
	InsertOutbox(ctx context.Context, messages []repository.OutboxMessage) error
}

// Enqueuer hands follow-up work to the queue. Implemented by the worker
// client.
type Enqueuer interface {
	EnqueueEventProcess(ctx context.Context, leadID, eventID uuid.UUID) error
	EnqueueRoutingEvaluation(ctx context.Context, leadID uuid.UUID) error
}

// Options carries the tunables the service reads from configuration.
type Options struct {
	DefaultPhoneRegion string
	DecayWindow        time.Duration
	DecayBatchSize     int
}

type Service struct {
	store       Store
	rules       rules.Provider
	scorer      *scoring.Engine
	detector    *intent.Detector
	automations *automation.Engine
	enqueuer    Enqueuer
	bus         events.Bus
	log         *logger.Logger
	opts        Options

	// now is swappable for deterministic tests.
	now func() time.Time
}

func New(store Store, provider rules.Provider, enqueuer Enqueuer, bus events.Bus, opts Options, log *logger.Logger) *Service {
	return &Service{
		store:       store,
		rules:       provider,
		scorer:      scoring.NewEngine(store, log),
		detector:    intent.NewDetector(log),
		automations: automation.NewEngine(log),
		enqueuer:    enqueuer,
		bus:         bus,
		log:         log,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// IngestParams is an inbound event plus the identifier set it arrived with.
type IngestParams struct {
	Identifiers domain.IdentifierSet
	Attributes  map[string]string
	EventType   string
	Category    string
	Source      string
	OccurredAt  time.Time
	Metadata    map[string]string
}

// Ingest resolves the identifiers to a lead (creating one when nothing
// matches), records the event, and enqueues asynchronous processing. The bool
// reports whether a new lead was created.
func (s *Service) Ingest(ctx context.Context, params IngestParams) (*domain.Lead, domain.Event, bool, error) {
	if params.EventType == "" {
		return nil, domain.Event{}, false, apperr.Validation("event type is required").WithOp("leads.Ingest")
	}
	if params.Identifiers.Empty() {
		return nil, domain.Event{}, false, apperr.Validation("at least one identifier is required").WithOp("leads.Ingest")
	}

	ids := params.Identifiers
	if ids.Phone != "" {
		region := ids.Region
		if region == "" {
			region = s.opts.DefaultPhoneRegion
		}
		ids.Phone = phone.NormalizeE164(ids.Phone, region)
	}

	lead, created, err := s.store.ResolveOrCreate(ctx, ids, params.Attributes)
	if err != nil {
		return nil, domain.Event{}, false, apperr.Transient("lead resolution failed", err).WithOp("leads.Ingest")
	}
	if created && s.bus != nil {
		s.bus.Publish(ctx, events.LeadCreated{BaseEvent: events.NewBaseEvent(), LeadID: lead.ID})
	}

	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	ev, err := s.store.InsertEvent(ctx, repository.CreateEventParams{
		LeadID:     lead.ID,
		Type:       params.EventType,
		Category:   params.Category,
		Source:     params.Source,
		OccurredAt: occurredAt,
		Metadata:   params.Metadata,
	})
	if err != nil {
		return nil, domain.Event{}, false, apperr.Transient("event insert failed", err).WithOp("leads.Ingest")
	}

	if err := s.enqueuer.EnqueueEventProcess(ctx, lead.ID, ev.ID); err != nil {
		return nil, domain.Event{}, false, apperr.Transient("enqueue event processing failed", err).WithOp("leads.Ingest")
	}
	return lead, ev, created, nil
}

// GetLead fetches one lead.
func (s *Service) GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("lead not found").WithOp("leads.GetLead")
		}
		return nil, apperr.Transient("lead load failed", err).WithOp("leads.GetLead")
	}
	return lead, nil
}

// storeErr maps repository sentinels onto the error taxonomy.
func storeErr(op, msg string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msg).WithOp(op)
	case errors.Is(err, repository.ErrVersionConflict):
		return apperr.Conflict(msg).WithOp(op)
	default:
		return apperr.Transient(msg, err).WithOp(op)
	}
}

// eligible is the routing eligibility predicate over a lead snapshot.
func eligible(lead *domain.Lead, cfg routing.Config) bool {
	return lead.RoutingStatus == domain.RoutingStatusUnrouted &&
		lead.TotalScore >= cfg.ScoreThreshold &&
		lead.PrimaryIntent != nil &&
		lead.IntentConfidence >= cfg.ConfidenceThreshold
}

// actionMessages converts automation actions into outbox rows.
func actionMessages(actions []automation.Action, runAt time.Time) []repository.OutboxMessage {
	messages := make([]repository.OutboxMessage, 0, len(actions))
	for _, action := range actions {
		payload := make(map[string]string, len(action.Params)+1)
		for k, v := range action.Params {
			payload[k] = v
		}
		payload["ruleId"] = action.RuleID
		messages = append(messages, repository.OutboxMessage{
			LeadID:         action.LeadID,
			ActionType:     string(action.Type),
			Payload:        payload,
			IdempotencyKey: action.IdempotencyKey,
			RunAt:          runAt,
		})
	}
	return messages
}

func versionTag(prefix string, version int64) string {
	return fmt.Sprintf("%s:%d", prefix, version)
}
