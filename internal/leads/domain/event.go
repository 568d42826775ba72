package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable marketing/engagement fact resolved against a lead.
// The ingestion boundary owns it; the engine only reads it.
type Event struct {
	ID         uuid.UUID
	LeadID     uuid.UUID
	Type       string
	Category   string
	Source     string
	OccurredAt time.Time
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Match is the shared predicate shape used by scoring and intent rules.
// Empty fields match anything; metadata entries must all be present and equal.
type Match struct {
	EventType    string            `yaml:"eventType"`
	Category     string            `yaml:"category"`
	Source       string            `yaml:"source"`
	Metadata     map[string]string `yaml:"metadata"`
	MetadataKeys []string          `yaml:"metadataKeys"`
}

// Matches evaluates the predicate against an event.
func (m Match) Matches(ev Event) bool {
	if m.EventType != "" && m.EventType != ev.Type {
		return false
	}
	if m.Category != "" && m.Category != ev.Category {
		return false
	}
	if m.Source != "" && m.Source != ev.Source {
		return false
	}
	for key, want := range m.Metadata {
		if got, ok := ev.Metadata[key]; !ok || got != want {
			return false
		}
	}
	for _, key := range m.MetadataKeys {
		if _, ok := ev.Metadata[key]; !ok {
			return false
		}
	}
	return true
}
