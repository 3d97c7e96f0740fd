// Package collab derives collaboration analytics from file and conflict
// events: per-file ownership, per-editor activity, a ranking of
// conflict-prone files, and coordination suggestions.
//
// The analyzer is advisory only. It never resolves conflicts or locks files.
package collab

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/hub"
	"github.com/steveyegge/wsmon/internal/logging"
	"github.com/steveyegge/wsmon/internal/pathtab"
	"github.com/steveyegge/wsmon/internal/validate"
)

// ServiceName is the hub registration name of the analyzer.
const ServiceName = "collaboration-analyzer"

// SuggestionCoordinate is the type of suggestion raised for a conflict.
const SuggestionCoordinate = "coordinate_edits"

// Config holds configuration for the analyzer.
type Config struct {
	// InsightsInterval is how often an insights snapshot is published.
	InsightsInterval time.Duration

	// HotFileLimit bounds the ranked hot-file list.
	HotFileLimit int

	// TopN is the number of hot files and contributors included in insights.
	TopN int

	// MaxSuggestions bounds the retained suggestions, oldest dropped first.
	MaxSuggestions int

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	Logger logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InsightsInterval: 5 * time.Minute,
		HotFileLimit:     10,
		TopN:             5,
		MaxSuggestions:   1000,
		Now:              time.Now,
	}
}

// Edits is one contributor's record for a file.
type Edits struct {
	Editor   string    `json:"editor"`
	Count    int       `json:"edit_count"`
	LastEdit time.Time `json:"last_edit"`
}

// Ownership describes who edits a file.
type Ownership struct {
	Path         string    `json:"path"`
	PrimaryOwner string    `json:"primary_owner"`
	LastActivity time.Time `json:"last_activity"`
	Contributors []Edits   `json:"contributors"`
}

// fileState is the per-path arena slot.
type fileState struct {
	contributors []Edits // first-seen order
	primary      int     // index into contributors
	lastActivity time.Time

	conflicts    int
	lastConflict time.Time
}

// record adds one edit by editor and keeps primary pointing at the highest
// count, earliest-seen contributor.
func (f *fileState) record(editor string, at time.Time) {
	idx := -1
	for i := range f.contributors {
		if f.contributors[i].Editor == editor {
			idx = i
			break
		}
	}
	if idx < 0 {
		f.contributors = append(f.contributors, Edits{Editor: editor})
		idx = len(f.contributors) - 1
	}
	c := &f.contributors[idx]
	c.Count++
	if at.After(c.LastEdit) {
		c.LastEdit = at
	}
	if at.After(f.lastActivity) {
		f.lastActivity = at
	}

	if idx == f.primary {
		return
	}
	p := f.contributors[f.primary]
	if c.Count > p.Count || (c.Count == p.Count && idx < f.primary) {
		f.primary = idx
	}
}

type member struct {
	editor   string
	activity int
	last     time.Time
	files    map[pathtab.Handle]struct{}
}

// Analyzer is the collaboration analytics service. It is safe for concurrent use.
type Analyzer struct {
	config Config
	logger logging.Logger

	mu          sync.Mutex
	hub         *hub.Hub
	paths       *pathtab.Table
	files       []fileState
	members     map[string]*member
	memberOrder []string
	hot         []events.HotFile
	suggestions []events.Suggestion

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates an analyzer, applying defaults for zero values.
func New(config Config) (*Analyzer, error) {
	defaults := DefaultConfig()
	if config.InsightsInterval == 0 {
		config.InsightsInterval = defaults.InsightsInterval
	}
	if config.HotFileLimit == 0 {
		config.HotFileLimit = defaults.HotFileLimit
	}
	if config.TopN == 0 {
		config.TopN = defaults.TopN
	}
	if config.MaxSuggestions == 0 {
		config.MaxSuggestions = defaults.MaxSuggestions
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if err := validate.PositiveDuration("insights interval", config.InsightsInterval); err != nil {
		return nil, err
	}
	if err := validate.PositiveInt("hot file limit", config.HotFileLimit); err != nil {
		return nil, err
	}
	if err := validate.PositiveInt("top n", config.TopN); err != nil {
		return nil, err
	}
	if err := validate.PositiveInt("max suggestions", config.MaxSuggestions); err != nil {
		return nil, err
	}

	a := &Analyzer{
		config: config,
		logger: logging.OrDefault(config.Logger, "collab"),
	}
	a.resetLocked()
	return a, nil
}

func (a *Analyzer) resetLocked() {
	a.paths = pathtab.New()
	a.files = make([]fileState, 1)
	a.members = make(map[string]*member)
	a.memberOrder = nil
	a.hot = nil
	a.suggestions = nil
}

// Name implements hub.Service.
func (a *Analyzer) Name() string { return ServiceName }

// Attach implements hub.Service and subscribes to file changes and conflicts.
func (a *Analyzer) Attach(h *hub.Hub) {
	a.mu.Lock()
	a.hub = h
	a.mu.Unlock()

	h.OnFor(ServiceName, events.FileChanged, func(p any) error {
		change, ok := p.(events.FileChange)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedPayload, p)
		}
		if change.Editor == "" {
			return nil
		}
		return a.TrackFileActivity(change)
	})
	h.OnFor(ServiceName, events.ConflictDetected, func(p any) error {
		c, ok := p.(events.Conflict)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedPayload, p)
		}
		_, err := a.AnalyzeConflictPattern(c)
		return err
	})
}

// Start begins periodic insights publication. Calling Start twice is a no-op.
func (a *Analyzer) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})

	a.wg.Add(1)
	go a.insightsLoop(a.stop)
}

func (a *Analyzer) insightsLoop(stop chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.InsightsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.PublishInsights()
		}
	}
}

// Shutdown stops the insights ticker and resets all analytics.
func (a *Analyzer) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	stop := a.stop
	a.stop = nil
	a.mu.Unlock()

	if stop != nil {
		close(stop)
		a.wg.Wait()
	}

	a.mu.Lock()
	a.resetLocked()
	a.mu.Unlock()
	return nil
}

// TrackFileActivity records one edit for ownership and team activity.
func (a *Analyzer) TrackFileActivity(change events.FileChange) error {
	if err := validate.FilePath(change.Path); err != nil {
		return err
	}
	if err := validate.EditorID(change.Editor); err != nil {
		return err
	}
	at := change.Timestamp
	if at.IsZero() {
		at = a.config.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, h := a.fileLocked(change.Path)
	f.record(change.Editor, at)

	m, ok := a.members[change.Editor]
	if !ok {
		m = &member{editor: change.Editor, files: make(map[pathtab.Handle]struct{})}
		a.members[change.Editor] = m
		a.memberOrder = append(a.memberOrder, change.Editor)
	}
	m.activity++
	if at.After(m.last) {
		m.last = at
	}
	m.files[h] = struct{}{}
	return nil
}

// fileLocked returns the arena slot for path, creating it. Caller holds a.mu.
func (a *Analyzer) fileLocked(path string) (*fileState, pathtab.Handle) {
	h := a.paths.Intern(path)
	for len(a.files) < a.paths.Cap() {
		a.files = append(a.files, fileState{})
	}
	return &a.files[h], h
}

// AnalyzeConflictPattern updates the hot-file ranking for c.Path and, when
// more than one editor is involved, publishes a coordination suggestion.
func (a *Analyzer) AnalyzeConflictPattern(c events.Conflict) (*events.Suggestion, error) {
	if err := validate.FilePath(c.Path); err != nil {
		return nil, err
	}
	at := c.Timestamp
	if at.IsZero() {
		at = a.config.Now()
	}

	a.mu.Lock()
	f, _ := a.fileLocked(c.Path)
	f.conflicts++
	if at.After(f.lastConflict) {
		f.lastConflict = at
	}
	a.rankLocked(events.HotFile{Path: c.Path, Conflicts: f.conflicts, LastConflict: f.lastConflict})

	if len(c.Editors) < 2 {
		a.mu.Unlock()
		return nil, nil
	}

	priority := events.PriorityMedium
	if len(c.Editors) > 2 {
		priority = events.PriorityHigh
	}
	s := events.Suggestion{
		ID:           uuid.NewString(),
		Type:         SuggestionCoordinate,
		Participants: append([]string(nil), c.Editors...),
		Subject:      "Coordinate changes to " + c.Path,
		Priority:     priority,
		Timestamp:    a.config.Now(),
	}
	a.suggestions = append(a.suggestions, s)
	if over := len(a.suggestions) - a.config.MaxSuggestions; over > 0 {
		a.suggestions = append(a.suggestions[:0], a.suggestions[over:]...)
	}
	target := a.hub
	a.mu.Unlock()

	a.logger.Debug("suggestion raised", "path", c.Path, "participants", len(s.Participants), "priority", priority)
	if target != nil {
		target.Emit(events.CollaborationSuggestion, s)
	}
	return &s, nil
}

// rankLocked inserts or updates entry in the hot list, re-sorts, and
// truncates to the limit. Caller holds a.mu.
func (a *Analyzer) rankLocked(entry events.HotFile) {
	found := false
	for i := range a.hot {
		if a.hot[i].Path == entry.Path {
			a.hot[i] = entry
			found = true
			break
		}
	}
	if !found {
		a.hot = append(a.hot, entry)
	}
	sort.SliceStable(a.hot, func(i, j int) bool {
		if a.hot[i].Conflicts != a.hot[j].Conflicts {
			return a.hot[i].Conflicts > a.hot[j].Conflicts
		}
		return a.hot[i].LastConflict.After(a.hot[j].LastConflict)
	})
	if len(a.hot) > a.config.HotFileLimit {
		a.hot = a.hot[:a.config.HotFileLimit]
	}
}

// HotFiles returns the ranked hot-file list, most conflicts first.
func (a *Analyzer) HotFiles() []events.HotFile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]events.HotFile(nil), a.hot...)
}

// Ownership returns the ownership record for path.
func (a *Analyzer) Ownership(path string) (Ownership, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, ok := a.paths.Lookup(path)
	if !ok {
		return Ownership{}, false
	}
	f := &a.files[h]
	if len(f.contributors) == 0 {
		return Ownership{}, false
	}
	return Ownership{
		Path:         path,
		PrimaryOwner: f.contributors[f.primary].Editor,
		LastActivity: f.lastActivity,
		Contributors: append([]Edits(nil), f.contributors...),
	}, true
}

// Suggestions returns retained suggestions, oldest first.
func (a *Analyzer) Suggestions() []events.Suggestion {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]events.Suggestion(nil), a.suggestions...)
}

// GenerateInsights returns a snapshot of team activity.
func (a *Analyzer) GenerateInsights() events.Insights {
	now := a.config.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	top := a.hot
	if len(top) > a.config.TopN {
		top = top[:a.config.TopN]
	}

	contributors := make([]events.Contributor, 0, len(a.memberOrder))
	for _, name := range a.memberOrder {
		m := a.members[name]
		contributors = append(contributors, events.Contributor{
			Editor:       m.editor,
			Activity:     m.activity,
			LastActivity: m.last,
			Files:        len(m.files),
		})
	}
	sort.SliceStable(contributors, func(i, j int) bool {
		return contributors[i].Activity > contributors[j].Activity
	})
	if len(contributors) > a.config.TopN {
		contributors = contributors[:a.config.TopN]
	}

	tracked := 0
	for i := 1; i < len(a.files); i++ {
		if len(a.files[i].contributors) > 0 {
			tracked++
		}
	}

	return events.Insights{
		GeneratedAt:     now,
		TeamSize:        len(a.members),
		TrackedFiles:    tracked,
		HotFiles:        append([]events.HotFile{}, top...),
		TopContributors: contributors,
		Suggestions:     len(a.suggestions),
	}
}

// PublishInsights generates insights and emits them on the hub.
func (a *Analyzer) PublishInsights() events.Insights {
	in := a.GenerateInsights()

	a.mu.Lock()
	target := a.hub
	a.mu.Unlock()

	if target != nil {
		target.Emit(events.CollaborationInsights, in)
	}
	return in
}
