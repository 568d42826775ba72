// Package transport defines the request and response DTOs for the leads API.
package transport

import (
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/automation"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/internal/routing"
)

// IdentifiersRequest is the inbound identifier set for resolution.
type IdentifiersRequest struct {
	Email      string `json:"email" validate:"omitempty,email"`
	Phone      string `json:"phone"`
	PortalID   string `json:"portalId"`
	CampaignID string `json:"campaignId"`
	SocialURL  string `json:"socialUrl" validate:"omitempty,url"`
	Region     string `json:"region"`
}

// IngestRequest resolves a lead and records one event against it.
type IngestRequest struct {
	Identifiers IdentifiersRequest `json:"identifiers" validate:"required"`
	Attributes  map[string]string  `json:"attributes"`
	EventType   string             `json:"eventType" validate:"required"`
	Category    string             `json:"category"`
	Source      string             `json:"source"`
	OccurredAt  *time.Time         `json:"occurredAt"`
	Metadata    map[string]string  `json:"metadata"`
}

// ToParams converts the request into service input.
func (r IngestRequest) ToParams() service.IngestParams {
	params := service.IngestParams{
		Identifiers: domain.IdentifierSet{
			Email:      r.Identifiers.Email,
			Phone:      r.Identifiers.Phone,
			PortalID:   r.Identifiers.PortalID,
			CampaignID: r.Identifiers.CampaignID,
			SocialURL:  r.Identifiers.SocialURL,
			Region:     r.Identifiers.Region,
		},
		Attributes: r.Attributes,
		EventType:  r.EventType,
		Category:   r.Category,
		Source:     r.Source,
		Metadata:   r.Metadata,
	}
	if r.OccurredAt != nil {
		params.OccurredAt = *r.OccurredAt
	}
	return params
}

// OverrideRequest is a manual routing override.
type OverrideRequest struct {
	Pipeline string     `json:"pipeline" validate:"required"`
	Stage    string     `json:"stage" validate:"required"`
	OwnerID  *uuid.UUID `json:"ownerId"`
}

// RouteRequest is the optional body of POST /leads/:id/route.
type RouteRequest struct {
	Override *OverrideRequest `json:"override"`
}

// LeadResponse is the external view of a lead.
type LeadResponse struct {
	ID                  uuid.UUID         `json:"id"`
	Email               *string           `json:"email"`
	Phone               *string           `json:"phone"`
	Region              *string           `json:"region"`
	Attributes          map[string]string `json:"attributes"`
	DemographicScore    int               `json:"demographicScore"`
	EngagementScore     int               `json:"engagementScore"`
	BehaviorScore       int               `json:"behaviorScore"`
	TotalScore          int               `json:"totalScore"`
	PrimaryIntent       *string           `json:"primaryIntent"`
	IntentConfidence    int               `json:"intentConfidence"`
	RoutingStatus       string            `json:"routingStatus"`
	Pipeline            *string           `json:"pipeline"`
	Stage               *string           `json:"stage"`
	OwnerID             *uuid.UUID        `json:"ownerId"`
	Version             int64             `json:"version"`
	ScoreMaterializedAt time.Time         `json:"scoreMaterializedAt"`
	CreatedAt           time.Time         `json:"createdAt"`
	LastActivityAt      time.Time         `json:"lastActivityAt"`
}

func FromLead(lead *domain.Lead) LeadResponse {
	return LeadResponse{
		ID:                  lead.ID,
		Email:               lead.Email,
		Phone:               lead.Phone,
		Region:              lead.Region,
		Attributes:          lead.Attributes,
		DemographicScore:    lead.Scores.Demographic,
		EngagementScore:     lead.Scores.Engagement,
		BehaviorScore:       lead.Scores.Behavior,
		TotalScore:          lead.TotalScore,
		PrimaryIntent:       lead.PrimaryIntent,
		IntentConfidence:    lead.IntentConfidence,
		RoutingStatus:       string(lead.RoutingStatus),
		Pipeline:            lead.Pipeline,
		Stage:               lead.Stage,
		OwnerID:             lead.OwnerID,
		Version:             lead.Version,
		ScoreMaterializedAt: lead.ScoreMaterializedAt,
		CreatedAt:           lead.CreatedAt,
		LastActivityAt:      lead.LastActivityAt,
	}
}

// IngestResponse acknowledges an accepted event.
type IngestResponse struct {
	Lead       LeadResponse `json:"lead"`
	EventID    uuid.UUID    `json:"eventId"`
	LeadCreated bool        `json:"leadCreated"`
}

// CategoryResponse is one decayed intent category.
type CategoryResponse struct {
	Sum          float64   `json:"sum"`
	Confidence   int       `json:"confidence"`
	LastSignalAt time.Time `json:"lastSignalAt"`
}

// IntentResponse is the decayed intent view of a lead.
type IntentResponse struct {
	Primary    *string                     `json:"primary"`
	Confidence int                         `json:"confidence"`
	Categories map[string]CategoryResponse `json:"categories"`
	AsOf       time.Time                   `json:"asOf"`
}

func FromIntentView(view service.IntentView) IntentResponse {
	resp := IntentResponse{
		Primary:    view.Primary,
		Confidence: view.Confidence,
		Categories: make(map[string]CategoryResponse, len(view.Categories)),
		AsOf:       view.AsOf,
	}
	for category, state := range view.Categories {
		resp.Categories[category] = CategoryResponse{
			Sum:          state.Sum,
			Confidence:   state.Confidence,
			LastSignalAt: state.LastSignalAt,
		}
	}
	return resp
}

// DecisionResponse is the outcome of a routing evaluation.
type DecisionResponse struct {
	Kind     string     `json:"kind"`
	Eligible bool       `json:"eligible"`
	Status   string     `json:"status"`
	Pipeline string     `json:"pipeline,omitempty"`
	Stage    string     `json:"stage,omitempty"`
	OwnerID  *uuid.UUID `json:"ownerId,omitempty"`
	Reason   string     `json:"reason"`
}

func FromDecision(decision routing.Decision) DecisionResponse {
	return DecisionResponse{
		Kind:     string(decision.Kind),
		Eligible: decision.Eligible,
		Status:   string(decision.Status),
		Pipeline: decision.Pipeline,
		Stage:    decision.Stage,
		OwnerID:  decision.OwnerID,
		Reason:   decision.Reason,
	}
}

// ActionResponse is one queued automation action.
type ActionResponse struct {
	Type           string            `json:"type"`
	RuleID         string            `json:"ruleId"`
	Params         map[string]string `json:"params"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

func FromActions(actions []automation.Action) []ActionResponse {
	out := make([]ActionResponse, 0, len(actions))
	for _, action := range actions {
		out = append(out, ActionResponse{
			Type:           string(action.Type),
			RuleID:         action.RuleID,
			Params:         action.Params,
			IdempotencyKey: action.IdempotencyKey,
		})
	}
	return out
}
