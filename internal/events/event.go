// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadflow_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// LeadCreated is published when identity resolution creates a brand-new lead.
type LeadCreated struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// LeadScored is published after an event's score and intent deltas are
// persisted.
type LeadScored struct {
	BaseEvent
	LeadID           uuid.UUID `json:"leadId"`
	TotalScore       int       `json:"totalScore"`
	PreviousScore    int       `json:"previousScore"`
	PrimaryIntent    *string   `json:"primaryIntent"`
	IntentConfidence int       `json:"intentConfidence"`
}

func (e LeadScored) EventName() string { return "leads.lead.scored" }

// LeadRouted is published when a lead enters a pipeline, with or without an
// owner.
type LeadRouted struct {
	BaseEvent
	LeadID   uuid.UUID  `json:"leadId"`
	Pipeline string     `json:"pipeline"`
	Stage    string     `json:"stage"`
	OwnerID  *uuid.UUID `json:"ownerId"`
}

func (e LeadRouted) EventName() string { return "leads.lead.routed" }
