package mcp

import (
	"testing"
	"time"

	"github.com/steveyegge/wsmon/internal/events"
)

func TestWrap(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		event     string
		payload   any
		priority  string
		attention bool
	}{
		{"file change", events.FileChanged, events.FileChange{Path: "/a.js"}, PriorityLow, false},
		{"status", events.MonitorStatus, nil, PriorityLow, false},
		{"conflict", events.ConflictDetected, events.Conflict{Path: "/a.js"}, PriorityHigh, true},
		{"insights", events.CollaborationInsights, events.Insights{}, PriorityNormal, false},
		{"medium suggestion", events.CollaborationSuggestion, events.Suggestion{Priority: events.PriorityMedium}, PriorityNormal, false},
		{"high suggestion", events.CollaborationSuggestion, events.Suggestion{Priority: events.PriorityHigh}, PriorityHigh, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Wrap(tt.event, tt.payload, at)
			if env.Type != tt.event {
				t.Errorf("Type = %q, want %q", env.Type, tt.event)
			}
			if env.Metadata.Source != Source || !env.Metadata.Timestamp.Equal(at) {
				t.Errorf("unexpected metadata %+v", env.Metadata)
			}
			if env.Metadata.Priority != tt.priority {
				t.Errorf("Priority = %q, want %q", env.Metadata.Priority, tt.priority)
			}
			if env.Metadata.RequiresAttention != tt.attention {
				t.Errorf("RequiresAttention = %v, want %v", env.Metadata.RequiresAttention, tt.attention)
			}
		})
	}
}
