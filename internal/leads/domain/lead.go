// Package domain holds the lead aggregate and the value types shared by the
// scoring, intent, and routing engines.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Dimension is one of the three independent score dimensions.
type Dimension string

const (
	DimensionDemographic Dimension = "demographic"
	DimensionEngagement  Dimension = "engagement"
	DimensionBehavior    Dimension = "behavior"
)

var knownDimensions = map[Dimension]struct{}{
	DimensionDemographic: {},
	DimensionEngagement:  {},
	DimensionBehavior:    {},
}

// IsKnownDimension reports whether the dimension is one of the three
// supported score dimensions.
func IsKnownDimension(d Dimension) bool {
	_, ok := knownDimensions[d]
	return ok
}

// ScoreComponents holds the per-dimension scores of a lead.
type ScoreComponents struct {
	Demographic int
	Engagement  int
	Behavior    int
}

// Total returns the sum of the components. The aggregate stores this sum
// directly so the total-equals-sum invariant holds by construction.
func (s ScoreComponents) Total() int {
	return s.Demographic + s.Engagement + s.Behavior
}

// Get returns the value for a dimension.
func (s ScoreComponents) Get(d Dimension) int {
	switch d {
	case DimensionDemographic:
		return s.Demographic
	case DimensionEngagement:
		return s.Engagement
	default:
		return s.Behavior
	}
}

// Set assigns the value for a dimension.
func (s *ScoreComponents) Set(d Dimension, value int) {
	switch d {
	case DimensionDemographic:
		s.Demographic = value
	case DimensionEngagement:
		s.Engagement = value
	case DimensionBehavior:
		s.Behavior = value
	}
}

// DimensionBounds clamps a single score dimension.
type DimensionBounds struct {
	Floor   int `yaml:"floor"`
	Ceiling int `yaml:"ceiling"`
}

// Clamp forces value inside the bounds.
func (b DimensionBounds) Clamp(value int) int {
	if value < b.Floor {
		return b.Floor
	}
	if value > b.Ceiling {
		return b.Ceiling
	}
	return value
}

// ScoreBounds clamps all three dimensions. The dimension ceilings must sum to
// no more than the intended total ceiling; the total is always the exact sum
// of the clamped components.
type ScoreBounds struct {
	Demographic DimensionBounds `yaml:"demographic"`
	Engagement  DimensionBounds `yaml:"engagement"`
	Behavior    DimensionBounds `yaml:"behavior"`
}

// For returns the bounds for a dimension.
func (b ScoreBounds) For(d Dimension) DimensionBounds {
	switch d {
	case DimensionDemographic:
		return b.Demographic
	case DimensionEngagement:
		return b.Engagement
	default:
		return b.Behavior
	}
}

// DefaultScoreBounds mirrors the classic 40/30/30 split over a 0-100 total.
func DefaultScoreBounds() ScoreBounds {
	return ScoreBounds{
		Demographic: DimensionBounds{Floor: 0, Ceiling: 40},
		Engagement:  DimensionBounds{Floor: 0, Ceiling: 30},
		Behavior:    DimensionBounds{Floor: 0, Ceiling: 30},
	}
}

// Clamp applies the per-dimension bounds to all components.
func (b ScoreBounds) Clamp(s ScoreComponents) ScoreComponents {
	return ScoreComponents{
		Demographic: b.Demographic.Clamp(s.Demographic),
		Engagement:  b.Engagement.Clamp(s.Engagement),
		Behavior:    b.Behavior.Clamp(s.Behavior),
	}
}

// IntentCategoryState is the incrementally maintained aggregate for one
// intent category: the decayed weight sum and the most recent signal time
// (used as the primary-intent tie-break).
type IntentCategoryState struct {
	Sum          float64   `json:"sum"`
	LastSignalAt time.Time `json:"lastSignalAt"`
}

// Lead is the aggregate root for score, intent, and routing state.
type Lead struct {
	ID         uuid.UUID
	Email      *string
	Phone      *string
	PortalID   *string
	CampaignID *string
	SocialURL  *string
	Region     *string
	Attributes map[string]string

	Scores          ScoreComponents
	TotalScore      int
	PrimaryIntent   *string
	IntentConfidence int

	// IntentSums is the decayed per-category signal state as of IntentSumsAsOf.
	// Exponential decay composes, so appending a signal only needs these sums,
	// never the full signal ledger.
	IntentSums     map[string]IntentCategoryState
	IntentSumsAsOf *time.Time

	RoutingStatus RoutingStatus
	Pipeline      *string
	Stage         *string
	OwnerID       *uuid.UUID

	// Version is the optimistic-concurrency token; every mutation checks and
	// increments it.
	Version int64

	ScoreMaterializedAt time.Time
	CreatedAt           time.Time
	LastActivityAt      time.Time
}
