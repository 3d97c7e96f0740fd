// Package events defines the event names and typed payloads carried by the
// workspace monitor hub. Every event emitted on the hub uses one of these
// names and payload types.
package events

import "time"

// Event names.
const (
	FileChanged             = "file:changed"
	EditorActivityEvent     = "editor:activity"
	ConflictDetected        = "conflict:detected"
	CollaborationSuggestion = "collaboration:suggestion"
	CollaborationInsights   = "collaboration:insights"
	MonitorStatus           = "monitor:status"
	Error                   = "error"
	ServiceRegistered       = "service:registered"
	ServiceUnregistered     = "service:unregistered"
)

// FileOp is the kind of change observed on a file.
type FileOp string

const (
	OpCreate FileOp = "create"
	OpModify FileOp = "modify"
	OpDelete FileOp = "delete"
	OpRename FileOp = "rename"
)

// FileChange is the payload of FileChanged.
type FileChange struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"event_type"`
	Editor    string    `json:"editor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Extension string    `json:"extension"`
}

// Action is an explicit editor action on a file.
type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// EditorActivity is the payload of EditorActivityEvent.
type EditorActivity struct {
	Path      string    `json:"path"`
	Editor    string    `json:"editor"`
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// ConflictType classifies a conflict.
type ConflictType string

const (
	SimultaneousEditing ConflictType = "simultaneous_editing"
	TooManyEditors      ConflictType = "too_many_editors"
)

// Conflict is the payload of ConflictDetected. It is never mutated after
// emission.
type Conflict struct {
	ID        string       `json:"id"`
	Path      string       `json:"file_path"`
	Editors   []string     `json:"editors"`
	Type      ConflictType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Resolved  bool         `json:"resolved"`
}

// Priority of a suggestion or outbound message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Suggestion is the payload of CollaborationSuggestion.
type Suggestion struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Participants []string  `json:"participants"`
	Subject      string    `json:"subject"`
	Priority     Priority  `json:"priority"`
	Timestamp    time.Time `json:"timestamp"`
}

// HotFile is a conflict-prone file.
type HotFile struct {
	Path         string    `json:"path"`
	Conflicts    int       `json:"conflict_count"`
	LastConflict time.Time `json:"last_conflict"`
}

// Contributor is one editor's activity total.
type Contributor struct {
	Editor       string    `json:"editor"`
	Activity     int       `json:"activity_count"`
	LastActivity time.Time `json:"last_activity"`
	Files        int       `json:"files_touched"`
}

// Insights is the payload of CollaborationInsights.
type Insights struct {
	GeneratedAt     time.Time     `json:"generated_at"`
	TeamSize        int           `json:"team_size"`
	TrackedFiles    int           `json:"tracked_files"`
	HotFiles        []HotFile     `json:"hot_files"`
	TopContributors []Contributor `json:"top_contributors"`
	Suggestions     int           `json:"outstanding_suggestions"`
}

// Error types reported through the Error event.
const (
	ErrorWatchFailed = "watch_failed"
	ErrorWatcher     = "watcher_error"
	ErrorConnection  = "connection_error"
)

// ErrorEvent is the payload of Error.
type ErrorEvent struct {
	Type    string    `json:"type"`
	Source  string    `json:"source"`
	Path    string    `json:"path,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"timestamp"`
}

// ServiceEvent is the payload of ServiceRegistered and ServiceUnregistered.
type ServiceEvent struct {
	Name string `json:"name"`
}
