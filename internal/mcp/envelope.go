package mcp

import (
	"time"

	"github.com/steveyegge/wsmon/internal/events"
)

// Source identifies this process in every envelope.
const Source = "workspace-monitor"

// Wire priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// TypeHeartbeat is the envelope type of keepalive messages.
const TypeHeartbeat = "heartbeat"

// Envelope is the only message shape sent to the endpoint.
type Envelope struct {
	Type     string   `json:"type"`
	Data     any      `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// Metadata annotates an Envelope.
type Metadata struct {
	Source            string    `json:"source"`
	Priority          string    `json:"priority"`
	RequiresAttention bool      `json:"requiresAttention,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// relayed lists the hub events forwarded to the endpoint.
var relayed = []string{
	events.FileChanged,
	events.ConflictDetected,
	events.CollaborationInsights,
	events.CollaborationSuggestion,
	events.MonitorStatus,
}

// Wrap builds the envelope for a hub event.
func Wrap(event string, payload any, at time.Time) Envelope {
	meta := Metadata{Source: Source, Priority: PriorityNormal, Timestamp: at}

	switch event {
	case events.FileChanged, events.MonitorStatus:
		meta.Priority = PriorityLow
	case events.ConflictDetected:
		meta.Priority = PriorityHigh
		meta.RequiresAttention = true
	case events.CollaborationSuggestion:
		if s, ok := payload.(events.Suggestion); ok && s.Priority == events.PriorityHigh {
			meta.Priority = PriorityHigh
		}
	}
	return Envelope{Type: event, Data: payload, Metadata: meta}
}
