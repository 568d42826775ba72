package automation

import (
	"testing"

	"github.com/google/uuid"

	"leadflow_backend/internal/leads/domain"
)

func automationConfig() Config {
	return Config{
		Rules: []Rule{
			{
				ID:      "welcome_task",
				Trigger: TriggerStageEntered,
				Stage:   "discovery",
				Actions: []ActionSpec{{Type: ActionCreateTask, Params: map[string]string{"title": "Welcome call"}}},
			},
			{
				ID:             "hot_lead_alert",
				Trigger:        TriggerScoreCrossed,
				ScoreThreshold: 70,
				Actions: []ActionSpec{
					{Type: ActionSendNotification, Params: map[string]string{"template": "hot_lead"}},
					{Type: ActionSyncExternal},
				},
			},
			{
				ID:             "stale_nudge",
				Trigger:        TriggerInactivityDays,
				InactivityDays: 14,
				Actions:        []ActionSpec{{Type: ActionUpdateField, Params: map[string]string{"field": "lifecycle", "value": "stale"}}},
			},
		},
	}
}

func TestEvaluate_StageEnteredMatchesConfiguredStage(t *testing.T) {
	engine := NewEngine(nil)
	lead := &domain.Lead{ID: uuid.New()}

	actions := engine.Evaluate(lead, TriggerContext{Type: TriggerStageEntered, Stage: "discovery", Version: "v1"}, automationConfig())
	if len(actions) != 1 || actions[0].Type != ActionCreateTask {
		t.Fatalf("expected one create_task action, got %+v", actions)
	}

	actions = engine.Evaluate(lead, TriggerContext{Type: TriggerStageEntered, Stage: "negotiation", Version: "v1"}, automationConfig())
	if len(actions) != 0 {
		t.Fatalf("expected no actions for an unmatched stage, got %d", len(actions))
	}
}

func TestEvaluate_ScoreCrossedRequiresStrictCrossing(t *testing.T) {
	engine := NewEngine(nil)
	lead := &domain.Lead{ID: uuid.New()}

	actions := engine.Evaluate(lead, TriggerContext{Type: TriggerScoreCrossed, PreviousScore: 65, NewScore: 72, Version: "v1"}, automationConfig())
	if len(actions) != 2 {
		t.Fatalf("expected both hot-lead actions on crossing, got %d", len(actions))
	}

	// Already above the threshold before the change: no re-fire.
	actions = engine.Evaluate(lead, TriggerContext{Type: TriggerScoreCrossed, PreviousScore: 71, NewScore: 80, Version: "v1"}, automationConfig())
	if len(actions) != 0 {
		t.Fatalf("expected no re-fire above threshold, got %d", len(actions))
	}

	actions = engine.Evaluate(lead, TriggerContext{Type: TriggerScoreCrossed, PreviousScore: 60, NewScore: 69, Version: "v1"}, automationConfig())
	if len(actions) != 0 {
		t.Fatalf("expected no fire below threshold, got %d", len(actions))
	}
}

func TestEvaluate_InactivityDays(t *testing.T) {
	engine := NewEngine(nil)
	lead := &domain.Lead{ID: uuid.New()}

	actions := engine.Evaluate(lead, TriggerContext{Type: TriggerInactivityDays, InactivityDays: 20, Version: "v1"}, automationConfig())
	if len(actions) != 1 || actions[0].Type != ActionUpdateField {
		t.Fatalf("expected update_field after inactivity, got %+v", actions)
	}

	actions = engine.Evaluate(lead, TriggerContext{Type: TriggerInactivityDays, InactivityDays: 3, Version: "v1"}, automationConfig())
	if len(actions) != 0 {
		t.Fatalf("expected no actions before the inactivity window, got %d", len(actions))
	}
}

func TestEvaluate_MalformedRuleSkipped(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{ID: "no-actions", Trigger: TriggerManual},
			{ID: "bad-action", Trigger: TriggerManual, Actions: []ActionSpec{{Type: "launch_rocket"}}},
			{ID: "ok", Trigger: TriggerManual, Actions: []ActionSpec{{Type: ActionCreateTask}}},
		},
	}

	engine := NewEngine(nil)
	actions := engine.Evaluate(&domain.Lead{ID: uuid.New()}, TriggerContext{Type: TriggerManual, Version: "v1"}, cfg)
	if len(actions) != 1 || actions[0].RuleID != "ok" {
		t.Fatalf("expected only the well-formed rule to fire, got %+v", actions)
	}
}

func TestIdempotencyKey_StablePerVersion(t *testing.T) {
	leadID := uuid.New()

	first := IdempotencyKey(leadID, "hot_lead_alert", 0, "score:3")
	second := IdempotencyKey(leadID, "hot_lead_alert", 0, "score:3")
	if first != second {
		t.Fatalf("expected key to be stable for the same inputs")
	}

	if IdempotencyKey(leadID, "hot_lead_alert", 1, "score:3") == first {
		t.Fatalf("expected distinct key per action index")
	}
	if IdempotencyKey(leadID, "hot_lead_alert", 0, "score:4") == first {
		t.Fatalf("expected distinct key per trigger version")
	}
	if IdempotencyKey(uuid.New(), "hot_lead_alert", 0, "score:3") == first {
		t.Fatalf("expected distinct key per lead")
	}
}

func TestEvaluate_ActionsCarryIdempotencyKeys(t *testing.T) {
	engine := NewEngine(nil)
	lead := &domain.Lead{ID: uuid.New()}

	actions := engine.Evaluate(lead, TriggerContext{Type: TriggerScoreCrossed, PreviousScore: 0, NewScore: 90, Version: "score:7"}, automationConfig())
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	for i, action := range actions {
		want := IdempotencyKey(lead.ID, "hot_lead_alert", i, "score:7")
		if action.IdempotencyKey != want {
			t.Fatalf("action %d: expected key %s, got %s", i, want, action.IdempotencyKey)
		}
	}
}
