// Package routing decides whether a qualified lead enters a sales pipeline,
// which pipeline and stage it lands in, and which owner picks it up.
package routing

import (
	"fmt"
	"sort"

	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// PipelineTarget is the destination for one primary intent.
type PipelineTarget struct {
	Pipeline string `yaml:"pipeline"`
	Stage    string `yaml:"stage"`
}

// Config is the injected, hot-reloadable routing configuration. Both
// thresholds are configuration, never constants.
type Config struct {
	ScoreThreshold      int                       `yaml:"scoreThreshold"`
	ConfidenceThreshold int                       `yaml:"confidenceThreshold"`
	Pipelines           map[string]PipelineTarget `yaml:"pipelines"`
}

// Owner is an active team member eligible for assignment.
type Owner struct {
	ID           uuid.UUID
	Name         string
	Email        string
	Region       string
	MaxLeads     int
	CurrentLeads int
}

// Kind classifies what the caller must do with a decision.
type Kind string

const (
	// KindNone means no state change: the lead is ineligible or already routed.
	KindNone Kind = "none"
	// KindRoute means create a deal and move the lead to routed (or pending
	// when no owner could be assigned).
	KindRoute Kind = "route"
	// KindAssign means an existing pending deal can now receive an owner.
	KindAssign Kind = "assign"
	// KindManualReview means no pipeline mapping exists; flag the lead
	// instead of silently dropping it.
	KindManualReview Kind = "manual_review"
)

// Decision is the outcome of a routing evaluation.
type Decision struct {
	Kind     Kind
	Eligible bool
	Status   domain.RoutingStatus
	Pipeline string
	Stage    string
	OwnerID  *uuid.UUID
	Reason   string
}

// ManualOverride routes a lead regardless of thresholds. Manual overrides
// always win.
type ManualOverride struct {
	Pipeline string
	Stage    string
	OwnerID  *uuid.UUID
}

// Evaluate applies the eligibility predicate and resolves the destination.
// It is a pure function of the lead snapshot, candidate owners, and config;
// persistence and the single-writer guarantee live with the caller.
func Evaluate(lead *domain.Lead, owners []Owner, cfg Config, override *ManualOverride) Decision {
	if override != nil {
		return evaluateOverride(lead, owners, override)
	}

	switch lead.RoutingStatus {
	case domain.RoutingStatusRouted:
		// Idempotent: re-evaluation of a routed lead is a no-op.
		return Decision{Kind: KindNone, Status: lead.RoutingStatus, Reason: "already routed"}
	case domain.RoutingStatusManualReview:
		return Decision{Kind: KindNone, Status: lead.RoutingStatus, Reason: "awaiting manual review"}
	case domain.RoutingStatusPending:
		return evaluatePending(lead, owners)
	}

	if lead.TotalScore < cfg.ScoreThreshold {
		return Decision{
			Kind:   KindNone,
			Status: lead.RoutingStatus,
			Reason: fmt.Sprintf("score %d below threshold %d", lead.TotalScore, cfg.ScoreThreshold),
		}
	}
	if lead.PrimaryIntent == nil || lead.IntentConfidence < cfg.ConfidenceThreshold {
		return Decision{
			Kind:   KindNone,
			Status: lead.RoutingStatus,
			Reason: fmt.Sprintf("intent confidence %d below threshold %d", lead.IntentConfidence, cfg.ConfidenceThreshold),
		}
	}

	target, ok := cfg.Pipelines[*lead.PrimaryIntent]
	if !ok {
		return Decision{
			Kind:   KindManualReview,
			Status: domain.RoutingStatusManualReview,
			Reason: fmt.Sprintf("no pipeline mapping for intent %q", *lead.PrimaryIntent),
		}
	}

	decision := Decision{
		Kind:     KindRoute,
		Eligible: true,
		Pipeline: target.Pipeline,
		Stage:    target.Stage,
		Reason:   "thresholds met",
	}

	if owner := SelectOwner(owners, lead.Region); owner != nil {
		decision.OwnerID = &owner.ID
		decision.Status = domain.RoutingStatusRouted
	} else {
		// Never block on a full team: create the deal unassigned.
		decision.Status = domain.RoutingStatusPending
		decision.Reason = "thresholds met, no eligible owner"
	}

	return decision
}

func evaluateOverride(lead *domain.Lead, owners []Owner, override *ManualOverride) Decision {
	decision := Decision{
		Kind:     KindRoute,
		Eligible: true,
		Status:   domain.RoutingStatusRouted,
		Pipeline: override.Pipeline,
		Stage:    override.Stage,
		OwnerID:  override.OwnerID,
		Reason:   "manual override",
	}
	if decision.OwnerID == nil {
		if owner := SelectOwner(owners, lead.Region); owner != nil {
			decision.OwnerID = &owner.ID
		} else if lead.OwnerID != nil {
			// No capacity anywhere: the current owner keeps the lead.
			decision.OwnerID = lead.OwnerID
		} else {
			decision.Status = domain.RoutingStatusPending
		}
	}
	return decision
}

// evaluatePending retries owner assignment for a lead whose deal was created
// unassigned.
func evaluatePending(lead *domain.Lead, owners []Owner) Decision {
	owner := SelectOwner(owners, lead.Region)
	if owner == nil {
		return Decision{Kind: KindNone, Status: lead.RoutingStatus, Reason: "still no eligible owner"}
	}
	return Decision{
		Kind:     KindAssign,
		Eligible: true,
		Status:   domain.RoutingStatusRouted,
		OwnerID:  &owner.ID,
		Reason:   "owner capacity available",
	}
}

// SelectOwner picks the least-loaded active owner with spare capacity whose
// region matches the lead's (an owner with an empty region takes any lead).
// Ties break on owner id for determinism.
func SelectOwner(owners []Owner, leadRegion *string) *Owner {
	eligible := make([]Owner, 0, len(owners))
	for _, owner := range owners {
		if owner.CurrentLeads >= owner.MaxLeads {
			continue
		}
		if owner.Region != "" && leadRegion != nil && *leadRegion != "" && owner.Region != *leadRegion {
			continue
		}
		eligible = append(eligible, owner)
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CurrentLeads != eligible[j].CurrentLeads {
			return eligible[i].CurrentLeads < eligible[j].CurrentLeads
		}
		return eligible[i].ID.String() < eligible[j].ID.String()
	})
	return &eligible[0]
}
