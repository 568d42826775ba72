// Package rules loads the versioned rule sets that drive scoring, intent
// detection, routing, and automation. Rule sets are injected data, evaluated
// by generic interpreters, and hot-reloadable without a restart.
package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"leadflow_backend/internal/automation"
	"leadflow_backend/internal/intent"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/routing"
	"leadflow_backend/internal/scoring"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"gopkg.in/yaml.v3"
)

// Set bundles every rule set the engines consume, under one version.
type Set struct {
	Version    string            `yaml:"version"`
	Scoring    scoring.Config    `yaml:"scoring"`
	Intent     intent.Config     `yaml:"intent"`
	Routing    routing.Config    `yaml:"routing"`
	Automation automation.Config `yaml:"automation"`
}

// Provider hands out the current rule set. Implementations must allow
// concurrent reads while a reload swaps the set atomically.
type Provider interface {
	Current() *Set
}

// Default tunables applied when the rule file leaves them unset. The decay
// and saturation curves are deliberately configuration, not constants.
const (
	defaultSaturation     = 25.0
	defaultIntentHalfLife = 45 * 24 * time.Hour
)

// FileProvider loads rule sets from a YAML file and reloads when the file
// changes on disk (mtime poll) or an explicit reload is requested.
type FileProvider struct {
	path     string
	interval time.Duration
	log      *logger.Logger

	current atomic.Pointer[Set]
	modTime atomic.Int64
}

// NewFileProvider loads the rule file once and fails fast if it is unreadable.
func NewFileProvider(cfg config.RulesConfig, log *logger.Logger) (*FileProvider, error) {
	p := &FileProvider{
		path:     cfg.GetRulesPath(),
		interval: cfg.GetRulesReloadInterval(),
		log:      log,
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns the active rule set.
func (p *FileProvider) Current() *Set {
	return p.current.Load()
}

// Reload re-reads the rule file and swaps the active set atomically.
func (p *FileProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}

	set, err := Parse(data)
	if err != nil {
		return err
	}

	if info, err := os.Stat(p.path); err == nil {
		p.modTime.Store(info.ModTime().UnixNano())
	}

	p.current.Store(set)
	if p.log != nil {
		p.log.Info("rule set loaded", "version", set.Version, "path", p.path)
	}
	return nil
}

// Watch polls the file's mtime and reloads on change until the context ends.
// A broken file is logged and the previous set stays active.
func (p *FileProvider) Watch(ctx context.Context) {
	if p.interval <= 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		info, err := os.Stat(p.path)
		if err != nil {
			continue
		}
		if info.ModTime().UnixNano() == p.modTime.Load() {
			continue
		}
		if err := p.Reload(); err != nil && p.log != nil {
			p.log.Warn("rule set reload failed, keeping previous set", "error", err)
		}
	}
}

// Parse decodes a rule set, applies defaults, and stamps a version. Files
// without an explicit version get a content hash so every reload is
// distinguishable in logs and idempotency keys.
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	if set.Scoring.Bounds == (domain.ScoreBounds{}) {
		set.Scoring.Bounds = domain.DefaultScoreBounds()
	}
	if set.Intent.Saturation == 0 {
		set.Intent.Saturation = defaultSaturation
	}
	if set.Intent.HalfLife == 0 {
		set.Intent.HalfLife = defaultIntentHalfLife
	}
	if set.Version == "" {
		sum := sha256.Sum256(data)
		set.Version = hex.EncodeToString(sum[:8])
	}

	return &set, nil
}

var _ Provider = (*FileProvider)(nil)
