package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/leads/domain"
)

type fakeHistory struct {
	counts map[string]int
	err    error
}

func (f *fakeHistory) CountRuleFirings(_ context.Context, _ string, ruleID string, _ time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[ruleID], nil
}

func testLead() *domain.Lead {
	return &domain.Lead{ID: uuid.New()}
}

func testEvent(eventType string) domain.Event {
	return domain.Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestScore_AllMatchingRulesFire(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{ID: "b", Priority: 2, Dimension: domain.DimensionBehavior, Points: 5, Match: domain.Match{EventType: "email_clicked"}},
			{ID: "a", Priority: 1, Dimension: domain.DimensionEngagement, Points: 3, Match: domain.Match{EventType: "email_clicked"}},
			{ID: "c", Priority: 3, Dimension: domain.DimensionEngagement, Points: 7, Match: domain.Match{EventType: "webinar_attended"}},
		},
	}

	engine := NewEngine(&fakeHistory{}, nil)
	deltas, err := engine.Score(context.Background(), testLead(), testEvent("email_clicked"), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(deltas))
	}
	if deltas[0].RuleID != "a" || deltas[1].RuleID != "b" {
		t.Fatalf("expected priority order a,b; got %s,%s", deltas[0].RuleID, deltas[1].RuleID)
	}
	if deltas[0].Amount != 3 || deltas[1].Amount != 5 {
		t.Fatalf("expected amounts 3,5; got %d,%d", deltas[0].Amount, deltas[1].Amount)
	}
}

func TestScore_PriorityTieBreaksOnRuleID(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{ID: "zz", Priority: 1, Dimension: domain.DimensionBehavior, Points: 1, Match: domain.Match{EventType: "x"}},
			{ID: "aa", Priority: 1, Dimension: domain.DimensionBehavior, Points: 2, Match: domain.Match{EventType: "x"}},
		},
	}

	engine := NewEngine(&fakeHistory{}, nil)
	deltas, err := engine.Score(context.Background(), testLead(), testEvent("x"), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 2 || deltas[0].RuleID != "aa" {
		t.Fatalf("expected aa first, got %+v", deltas)
	}
}

func TestScore_CapSuppressesFiring(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{
				ID:        "capped",
				Dimension: domain.DimensionEngagement,
				Points:    2,
				Match:     domain.Match{EventType: "email_opened"},
				Cap:       &FiringCap{Window: 24 * time.Hour, Max: 1},
			},
		},
	}

	history := &fakeHistory{counts: map[string]int{"capped": 1}}
	engine := NewEngine(history, nil)
	deltas, err := engine.Score(context.Background(), testLead(), testEvent("email_opened"), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 0 {
		t.Fatalf("expected capped rule to be suppressed, got %d deltas", len(deltas))
	}

	history.counts["capped"] = 0
	deltas, err = engine.Score(context.Background(), testLead(), testEvent("email_opened"), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("expected rule to fire below cap, got %d deltas", len(deltas))
	}
}

func TestScore_MalformedRuleSkippedOthersStillFire(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{ID: "", Dimension: domain.DimensionBehavior, Points: 5, Match: domain.Match{EventType: "x"}},
			{ID: "bad-dim", Dimension: "mystery", Points: 5, Match: domain.Match{EventType: "x"}},
			{ID: "bad-decay", Dimension: domain.DimensionBehavior, Points: 5, Match: domain.Match{EventType: "x"}, Decay: DecayPolicy{Kind: "sideways"}},
			{ID: "ok", Dimension: domain.DimensionBehavior, Points: 5, Match: domain.Match{EventType: "x"}},
		},
	}

	engine := NewEngine(&fakeHistory{}, nil)
	deltas, err := engine.Score(context.Background(), testLead(), testEvent("x"), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 1 || deltas[0].RuleID != "ok" {
		t.Fatalf("expected only the well-formed rule to fire, got %+v", deltas)
	}
}

func TestScore_MetadataPredicates(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{
				ID:        "pricing",
				Dimension: domain.DimensionBehavior,
				Points:    8,
				Match:     domain.Match{EventType: "page_visited", Metadata: map[string]string{"page": "pricing"}},
			},
		},
	}

	ev := testEvent("page_visited")
	ev.Metadata = map[string]string{"page": "pricing"}

	engine := NewEngine(&fakeHistory{}, nil)
	deltas, err := engine.Score(context.Background(), testLead(), ev, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("expected metadata match to fire, got %d", len(deltas))
	}

	ev.Metadata["page"] = "blog"
	deltas, err = engine.Score(context.Background(), testLead(), ev, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 0 {
		t.Fatalf("expected metadata mismatch to skip, got %d", len(deltas))
	}
}
