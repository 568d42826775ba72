package intent

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/leads/domain"
)

func signalEvent(eventType string) domain.Event {
	return domain.Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDetect_ReturnsSignalPerMatchingRule(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{ID: "r1", Category: CategoryResearch, Weight: 5, Match: domain.Match{EventType: "whitepaper_downloaded"}},
			{ID: "r2", Category: CategoryB2B, Weight: 3, Match: domain.Match{EventType: "whitepaper_downloaded", Metadata: map[string]string{"topic": "enterprise"}}},
			{ID: "r3", Category: CategoryCoCreation, Weight: 4, Match: domain.Match{EventType: "workshop_joined"}},
		},
	}

	ev := signalEvent("whitepaper_downloaded")
	ev.Metadata = map[string]string{"topic": "enterprise"}

	detector := NewDetector(nil)
	signals := detector.Detect(&domain.Lead{ID: uuid.New()}, ev, cfg)
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if signals[0].Category != CategoryResearch || signals[1].Category != CategoryB2B {
		t.Fatalf("unexpected categories: %+v", signals)
	}
}

func TestDetect_MalformedRuleSkipped(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{ID: "", Category: CategoryResearch, Weight: 5, Match: domain.Match{EventType: "x"}},
			{ID: "neg", Category: CategoryResearch, Weight: -1, Match: domain.Match{EventType: "x"}},
			{ID: "ok", Category: CategoryResearch, Weight: 2, Match: domain.Match{EventType: "x"}},
		},
	}

	detector := NewDetector(nil)
	signals := detector.Detect(&domain.Lead{ID: uuid.New()}, signalEvent("x"), cfg)
	if len(signals) != 1 || signals[0].RuleID != "ok" {
		t.Fatalf("expected only the well-formed rule, got %+v", signals)
	}
}

func TestConfidence_MonotonicAndBounded(t *testing.T) {
	cfg := Config{Saturation: 25}

	if got := Confidence(0, cfg); got != 0 {
		t.Fatalf("expected zero sum to give zero confidence, got %d", got)
	}

	prev := 0
	for _, sum := range []float64{1, 5, 10, 25, 50, 100, 1000} {
		got := Confidence(sum, cfg)
		if got < prev {
			t.Fatalf("confidence not monotonic: %f gave %d after %d", sum, got, prev)
		}
		if got >= 100 {
			t.Fatalf("confidence must stay below 100, got %d at sum %f", got, sum)
		}
		prev = got
	}

	// At the saturation point the curve sits at 1-1/e.
	want := int(math.Floor(100 * (1 - math.Exp(-1))))
	if got := Confidence(25, cfg); got != want {
		t.Fatalf("expected %d at saturation, got %d", want, got)
	}
}

func TestConfidence_ZeroSaturationDisablesCurve(t *testing.T) {
	cfg := Config{Saturation: 0}
	if got := Confidence(0.1, cfg); got != 100 {
		t.Fatalf("expected any signal to give 100 with zero saturation, got %d", got)
	}
}

func TestApply_AgreesWithLedgerReplay(t *testing.T) {
	cfg := Config{Saturation: 25, HalfLife: 45 * 24 * time.Hour}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(30 * 24 * time.Hour)
	t2 := t1.Add(15 * 24 * time.Hour)

	// Incremental path: fold in signals one batch at a time.
	states := Apply(nil, nil, []Signal{{Category: CategoryResearch, Weight: 10}}, t0, cfg)
	asOf := t0
	states = Apply(states, &asOf, []Signal{{Category: CategoryResearch, Weight: 6}, {Category: CategoryB2B, Weight: 4}}, t1, cfg)
	asOf = t1
	states = Apply(states, &asOf, nil, t2, cfg)

	// Replay path: rebuild from the full ledger at the same instant.
	replayed := RecomputeFromLedger([]LedgerSignal{
		{Category: CategoryResearch, Weight: 10, CreatedAt: t0},
		{Category: CategoryResearch, Weight: 6, CreatedAt: t1},
		{Category: CategoryB2B, Weight: 4, CreatedAt: t1},
	}, t2, cfg)

	for _, category := range []string{CategoryResearch, CategoryB2B} {
		inc, rep := states[category], replayed[category]
		if math.Abs(inc.Sum-rep.Sum) > 1e-9 {
			t.Fatalf("%s: incremental sum %f diverges from replay %f", category, inc.Sum, rep.Sum)
		}
	}
}

func TestDerive_HighestSumWins(t *testing.T) {
	cfg := Config{Saturation: 25}
	states := map[string]domain.IntentCategoryState{
		CategoryResearch: {Sum: 12},
		CategoryB2B:      {Sum: 30},
	}

	primary, confidence := Derive(states, cfg)
	if primary == nil || *primary != CategoryB2B {
		t.Fatalf("expected b2b primary, got %v", primary)
	}
	if confidence != Confidence(30, cfg) {
		t.Fatalf("expected confidence of winning sum, got %d", confidence)
	}
}

func TestDerive_TieBreaksOnRecencyThenName(t *testing.T) {
	cfg := Config{Saturation: 25}
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	states := map[string]domain.IntentCategoryState{
		CategoryResearch:   {Sum: 10, LastSignalAt: earlier},
		CategoryCoCreation: {Sum: 10, LastSignalAt: later},
	}
	primary, _ := Derive(states, cfg)
	if primary == nil || *primary != CategoryCoCreation {
		t.Fatalf("expected recency tie-break to pick co_creation, got %v", primary)
	}

	states = map[string]domain.IntentCategoryState{
		CategoryResearch: {Sum: 10, LastSignalAt: earlier},
		CategoryB2B:      {Sum: 10, LastSignalAt: earlier},
	}
	primary, _ = Derive(states, cfg)
	if primary == nil || *primary != CategoryB2B {
		t.Fatalf("expected lexicographic tie-break to pick b2b, got %v", primary)
	}
}

func TestDerive_NoSignalsMeansNoIntent(t *testing.T) {
	primary, confidence := Derive(map[string]domain.IntentCategoryState{}, Config{Saturation: 25})
	if primary != nil || confidence != 0 {
		t.Fatalf("expected nil intent with zero confidence, got %v %d", primary, confidence)
	}

	primary, _ = Derive(map[string]domain.IntentCategoryState{CategoryResearch: {Sum: 0}}, Config{Saturation: 25})
	if primary != nil {
		t.Fatalf("expected fully decayed category to be ignored, got %v", primary)
	}
}
