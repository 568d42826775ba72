// Package automation evaluates declarative trigger-to-action rules. The
// engine only returns action intents; executing them is the calling worker's
// job, which keeps rule evaluation side-effect-free and testable.
package automation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// TriggerType names the moments a rule can react to.
type TriggerType string

const (
	TriggerStageEntered   TriggerType = "stage_entered"
	TriggerScoreCrossed   TriggerType = "score_crossed"
	TriggerInactivityDays TriggerType = "inactivity_days"
	TriggerManual         TriggerType = "manual"
)

var knownTriggers = map[TriggerType]struct{}{
	TriggerStageEntered:   {},
	TriggerScoreCrossed:   {},
	TriggerInactivityDays: {},
	TriggerManual:         {},
}

// ActionType names the side effects a rule can request.
type ActionType string

const (
	ActionCreateTask       ActionType = "create_task"
	ActionSendNotification ActionType = "send_notification"
	ActionUpdateField      ActionType = "update_field"
	ActionSyncExternal     ActionType = "sync_external"
)

var knownActions = map[ActionType]struct{}{
	ActionCreateTask:       {},
	ActionSendNotification: {},
	ActionUpdateField:      {},
	ActionSyncExternal:     {},
}

// ActionSpec is one requested side effect inside a rule.
type ActionSpec struct {
	Type   ActionType        `yaml:"type"`
	Params map[string]string `yaml:"params"`
}

// Rule is a declarative trigger plus an ordered list of actions.
type Rule struct {
	ID             string       `yaml:"id"`
	Trigger        TriggerType  `yaml:"trigger"`
	Stage          string       `yaml:"stage"`
	ScoreThreshold int          `yaml:"scoreThreshold"`
	InactivityDays int          `yaml:"inactivityDays"`
	Actions        []ActionSpec `yaml:"actions"`
}

// Validate reports why a rule is malformed.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if _, ok := knownTriggers[r.Trigger]; !ok {
		return fmt.Errorf("unknown trigger %q", r.Trigger)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule has no actions")
	}
	for _, action := range r.Actions {
		if _, ok := knownActions[action.Type]; !ok {
			return fmt.Errorf("unknown action %q", action.Type)
		}
	}
	return nil
}

// Config is the injected, hot-reloadable automation rule set.
type Config struct {
	Rules []Rule `yaml:"rules"`
}

// TriggerContext describes the moment being evaluated. Version changes when
// the underlying state changes, so a worker retry of the same moment produces
// the same idempotency keys.
type TriggerContext struct {
	Type           TriggerType
	Stage          string
	PreviousScore  int
	NewScore       int
	InactivityDays int
	Version        string
}

// Action is one intent to perform a side effect, carrying the idempotency
// key that makes repeated evaluation safe.
type Action struct {
	Type           ActionType
	LeadID         uuid.UUID
	RuleID         string
	Params         map[string]string
	IdempotencyKey string
}

// Engine evaluates automation rules.
type Engine struct {
	log *logger.Logger
}

// NewEngine creates an automation engine.
func NewEngine(log *logger.Logger) *Engine {
	return &Engine{log: log}
}

// Evaluate returns the actions of every matching rule, in rule order then
// action order. Malformed rules are skipped and logged.
func (e *Engine) Evaluate(lead *domain.Lead, trigger TriggerContext, cfg Config) []Action {
	actions := make([]Action, 0, 4)
	for _, rule := range cfg.Rules {
		if err := rule.Validate(); err != nil {
			if e.log != nil {
				e.log.RuleSkipped(rule.ID, err.Error())
			}
			continue
		}
		if !matches(rule, trigger) {
			continue
		}
		for i, spec := range rule.Actions {
			actions = append(actions, Action{
				Type:           spec.Type,
				LeadID:         lead.ID,
				RuleID:         rule.ID,
				Params:         spec.Params,
				IdempotencyKey: IdempotencyKey(lead.ID, rule.ID, i, trigger.Version),
			})
		}
	}
	return actions
}

func matches(rule Rule, trigger TriggerContext) bool {
	if rule.Trigger != trigger.Type {
		return false
	}
	switch rule.Trigger {
	case TriggerStageEntered:
		return rule.Stage == "" || rule.Stage == trigger.Stage
	case TriggerScoreCrossed:
		return trigger.PreviousScore < rule.ScoreThreshold && trigger.NewScore >= rule.ScoreThreshold
	case TriggerInactivityDays:
		return rule.InactivityDays > 0 && trigger.InactivityDays >= rule.InactivityDays
	case TriggerManual:
		return true
	default:
		return false
	}
}

// IdempotencyKey derives the stable key for one action of one rule firing at
// one trigger version.
func IdempotencyKey(leadID uuid.UUID, ruleID string, actionIndex int, version string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s", leadID, ruleID, actionIndex, version))
	return hex.EncodeToString(sum[:])
}
