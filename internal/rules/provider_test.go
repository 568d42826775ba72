package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"leadflow_backend/internal/leads/domain"
)

const sampleRules = `
version: "2026-03-01"
scoring:
  bounds:
    demographic: {floor: 0, ceiling: 40}
    engagement: {floor: 0, ceiling: 30}
    behavior: {floor: 0, ceiling: 30}
  rules:
    - id: email_clicked
      priority: 10
      dimension: engagement
      points: 3
      match:
        eventType: email_clicked
      cap:
        window: 24h
        max: 2
      decay:
        kind: exponential
        halfLife: 720h
intent:
  saturation: 25
  halfLife: 1080h
  rules:
    - id: whitepaper
      category: research
      weight: 5
      match:
        eventType: whitepaper_downloaded
routing:
  scoreThreshold: 40
  confidenceThreshold: 60
  pipelines:
    research:
      pipeline: research
      stage: discovery
automation:
  rules:
    - id: welcome_task
      trigger: stage_entered
      stage: discovery
      actions:
        - type: create_task
          params:
            title: Welcome call
`

func TestParse_FullRuleSet(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if set.Version != "2026-03-01" {
		t.Fatalf("expected explicit version, got %q", set.Version)
	}
	if len(set.Scoring.Rules) != 1 {
		t.Fatalf("expected 1 scoring rule, got %d", len(set.Scoring.Rules))
	}

	rule := set.Scoring.Rules[0]
	if rule.Decay.HalfLife != 720*time.Hour {
		t.Fatalf("expected 720h half-life, got %s", rule.Decay.HalfLife)
	}
	if rule.Cap == nil || rule.Cap.Window != 24*time.Hour || rule.Cap.Max != 2 {
		t.Fatalf("expected 24h/2 cap, got %+v", rule.Cap)
	}

	if set.Intent.HalfLife != 1080*time.Hour {
		t.Fatalf("expected 1080h intent half-life, got %s", set.Intent.HalfLife)
	}
	if set.Routing.Pipelines["research"].Stage != "discovery" {
		t.Fatalf("expected research pipeline mapping, got %+v", set.Routing.Pipelines)
	}
	if len(set.Automation.Rules) != 1 || set.Automation.Rules[0].Actions[0].Params["title"] != "Welcome call" {
		t.Fatalf("unexpected automation rules: %+v", set.Automation.Rules)
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	set, err := Parse([]byte("scoring:\n  rules: []\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if set.Scoring.Bounds != domain.DefaultScoreBounds() {
		t.Fatalf("expected default bounds, got %+v", set.Scoring.Bounds)
	}
	if set.Intent.Saturation != 25 {
		t.Fatalf("expected default saturation 25, got %f", set.Intent.Saturation)
	}
	if set.Intent.HalfLife != 45*24*time.Hour {
		t.Fatalf("expected default intent half-life, got %s", set.Intent.HalfLife)
	}
	if set.Version == "" {
		t.Fatalf("expected a content-hash version for an unversioned file")
	}
}

func TestParse_ContentHashVersionChangesWithContent(t *testing.T) {
	first, err := Parse([]byte("scoring:\n  rules: []\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Parse([]byte("intent:\n  rules: []\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Version == second.Version {
		t.Fatalf("expected distinct versions for distinct content")
	}
}

func TestParse_RejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("scoring: [not a map")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParse_RejectsBadDuration(t *testing.T) {
	bad := `
scoring:
  rules:
    - id: r
      dimension: engagement
      points: 1
      decay:
        kind: exponential
        halfLife: two fortnights
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

type testRulesConfig struct {
	path     string
	interval time.Duration
}

func (c testRulesConfig) GetRulesPath() string                  { return c.path }
func (c testRulesConfig) GetRulesReloadInterval() time.Duration { return c.interval }

func TestFileProvider_ReloadSwapsSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("version: one\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	provider, err := NewFileProvider(testRulesConfig{path: path}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Current().Version != "one" {
		t.Fatalf("expected version one, got %q", provider.Current().Version)
	}

	if err := os.WriteFile(path, []byte("version: two\n"), 0o600); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}
	if err := provider.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if provider.Current().Version != "two" {
		t.Fatalf("expected version two after reload, got %q", provider.Current().Version)
	}
}

func TestFileProvider_BrokenReloadKeepsPreviousSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("version: one\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	provider, err := NewFileProvider(testRulesConfig{path: path}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(path, []byte("scoring: [broken"), 0o600); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}
	if err := provider.Reload(); err == nil {
		t.Fatalf("expected reload to fail")
	}
	if provider.Current().Version != "one" {
		t.Fatalf("expected previous set to survive a broken reload, got %q", provider.Current().Version)
	}
}

func TestFileProvider_MissingFileFailsFast(t *testing.T) {
	if _, err := NewFileProvider(testRulesConfig{path: filepath.Join(t.TempDir(), "missing.yaml")}, nil); err == nil {
		t.Fatalf("expected constructor to fail on a missing file")
	}
}
