package scoring

import (
	"math"
	"testing"
	"time"

	"leadflow_backend/internal/leads/domain"
)

func TestDecayFactor_NoneIsConstant(t *testing.T) {
	policy := DecayPolicy{Kind: DecayNone}
	if got := DecayFactor(policy, 365*24*time.Hour); got != 1 {
		t.Fatalf("expected factor 1 for non-decaying policy, got %f", got)
	}
}

func TestDecayFactor_ExponentialHalvesAtHalfLife(t *testing.T) {
	policy := DecayPolicy{Kind: DecayExponential, HalfLife: 30 * 24 * time.Hour}

	if got := DecayFactor(policy, 0); got != 1 {
		t.Fatalf("expected factor 1 at age zero, got %f", got)
	}
	got := DecayFactor(policy, policy.HalfLife)
	if math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected factor 0.5 at half-life, got %f", got)
	}
	got = DecayFactor(policy, 2*policy.HalfLife)
	if math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("expected factor 0.25 at two half-lives, got %f", got)
	}
}

func TestDecayFactor_LinearAgreesAtHalfLifeAndFloorsAtZero(t *testing.T) {
	policy := DecayPolicy{Kind: DecayLinear, HalfLife: 30 * 24 * time.Hour}

	got := DecayFactor(policy, policy.HalfLife)
	if math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected factor 0.5 at half-life, got %f", got)
	}
	if got := DecayFactor(policy, 3*policy.HalfLife); got != 0 {
		t.Fatalf("expected linear decay to floor at zero, got %f", got)
	}
}

func TestRecomputeComponents_ClampsToBoundsAndSumsPerDimension(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bounds := domain.DefaultScoreBounds()

	entries := []LedgerEntry{
		{Dimension: domain.DimensionDemographic, Amount: 30, CreatedAt: now},
		{Dimension: domain.DimensionDemographic, Amount: 30, CreatedAt: now},
		{Dimension: domain.DimensionEngagement, Amount: 10, CreatedAt: now},
		{Dimension: domain.DimensionBehavior, Amount: -50, CreatedAt: now},
	}

	components := RecomputeComponents(entries, bounds, now)
	if components.Demographic != 40 {
		t.Fatalf("expected demographic clamped to ceiling 40, got %d", components.Demographic)
	}
	if components.Engagement != 10 {
		t.Fatalf("expected engagement 10, got %d", components.Engagement)
	}
	if components.Behavior != 0 {
		t.Fatalf("expected behavior clamped to floor 0, got %d", components.Behavior)
	}
	if components.Total() != 50 {
		t.Fatalf("expected total to equal component sum 50, got %d", components.Total())
	}
}

func TestRecomputeComponents_DecayedEntriesLoseValue(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	halfLife := 30 * 24 * time.Hour

	entries := []LedgerEntry{
		{
			Dimension: domain.DimensionEngagement,
			Amount:    20,
			Decay:     DecayPolicy{Kind: DecayExponential, HalfLife: halfLife},
			CreatedAt: now.Add(-halfLife),
		},
	}

	components := RecomputeComponents(entries, domain.DefaultScoreBounds(), now)
	if components.Engagement != 10 {
		t.Fatalf("expected 20 points halved to 10 after one half-life, got %d", components.Engagement)
	}
}

func TestRecomputeComponents_OrderIndependent(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	halfLife := 45 * 24 * time.Hour

	entries := []LedgerEntry{
		{Dimension: domain.DimensionBehavior, Amount: 10, Decay: DecayPolicy{Kind: DecayExponential, HalfLife: halfLife}, CreatedAt: now.Add(-90 * 24 * time.Hour)},
		{Dimension: domain.DimensionBehavior, Amount: 8, Decay: DecayPolicy{Kind: DecayLinear, HalfLife: halfLife}, CreatedAt: now.Add(-10 * 24 * time.Hour)},
		{Dimension: domain.DimensionBehavior, Amount: 5, CreatedAt: now.Add(-200 * 24 * time.Hour)},
	}
	reversed := []LedgerEntry{entries[2], entries[1], entries[0]}

	forward := RecomputeComponents(entries, domain.DefaultScoreBounds(), now)
	backward := RecomputeComponents(reversed, domain.DefaultScoreBounds(), now)
	if forward != backward {
		t.Fatalf("expected replay to be order independent: %+v vs %+v", forward, backward)
	}
}
