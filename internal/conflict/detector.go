// Package conflict detects concurrent editing of the same file within a
// sliding time window.
//
// Each file path has an editing session mapping editors to their last
// activity. After every update the detector evaluates the editors active
// within the window:
//
//   - more than MaxSimultaneousEditors: a too_many_editors conflict
//   - otherwise more than one:          a simultaneous_editing conflict
//
// The two outcomes are mutually exclusive for one evaluation. A conflict is
// emitted when a new editor joins the active set or the conflict escalates
// to too_many_editors, so a pair of editors trading edits yields a single
// conflict rather than one per save. Editors leaving never emit.
package conflict

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/hub"
	"github.com/steveyegge/wsmon/internal/logging"
	"github.com/steveyegge/wsmon/internal/pathtab"
	"github.com/steveyegge/wsmon/internal/validate"
)

// ServiceName is the hub registration name of the detector.
const ServiceName = "conflict-detector"

// clockSkew is the tolerance for event timestamps ahead of the local clock.
const clockSkew = time.Minute

// Config holds configuration for the detector.
type Config struct {
	// TimeWindow is how long an editor stays active after its last event.
	TimeWindow time.Duration

	// MaxSimultaneousEditors is the editor count above which a
	// too_many_editors conflict is raised.
	MaxSimultaneousEditors int

	// SweepInterval is how often stale sessions are reclaimed.
	SweepInterval time.Duration

	// HistorySize bounds the in-memory conflict history.
	HistorySize int

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Logger for detector activity.
	Logger logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TimeWindow:             5 * time.Minute,
		MaxSimultaneousEditors: 3,
		SweepInterval:          time.Minute,
		HistorySize:            1000,
		Now:                    time.Now,
	}
}

type editorEntry struct {
	editor string
	last   time.Time
}

// session is the editing state of one file. Entries keep first-activity order.
type session struct {
	live     bool
	entries  []editorEntry
	lastEdit time.Time

	// Last reported classification; reset when the conflict clears.
	reportedType    events.ConflictType
	reportedEditors []string
}

// escalates reports whether typ/active warrant a new conflict relative to
// what was last reported, and records them as reported.
func (s *session) escalates(typ events.ConflictType, active []string) bool {
	joined := false
	for _, e := range active {
		if !contains(s.reportedEditors, e) {
			joined = true
			break
		}
	}
	raised := typ == events.TooManyEditors && s.reportedType != events.TooManyEditors

	s.reportedType = typ
	s.reportedEditors = append(s.reportedEditors[:0], active...)
	return joined || raised
}

func (s *session) clearReported() {
	s.reportedType = ""
	s.reportedEditors = s.reportedEditors[:0]
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (s *session) touch(editor string, at time.Time) {
	for i := range s.entries {
		if s.entries[i].editor == editor {
			if at.After(s.entries[i].last) {
				s.entries[i].last = at
			}
			s.bump(at)
			return
		}
	}
	s.entries = append(s.entries, editorEntry{editor: editor, last: at})
	s.bump(at)
}

func (s *session) bump(at time.Time) {
	if at.After(s.lastEdit) {
		s.lastEdit = at
	}
}

func (s *session) remove(editor string) {
	for i := range s.entries {
		if s.entries[i].editor == editor {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// active returns editors whose last activity is within window of now.
func (s *session) active(now time.Time, window time.Duration) []string {
	var out []string
	for _, e := range s.entries {
		if now.Sub(e.last) <= window {
			out = append(out, e.editor)
		}
	}
	return out
}

// Detector is the conflict detection service. It is safe for concurrent use.
type Detector struct {
	config Config
	logger logging.Logger

	mu       sync.Mutex
	hub      *hub.Hub
	paths    *pathtab.Table
	sessions []session

	history []events.Conflict
	next    int
	total   int
	byType  map[events.ConflictType]int

	stop chan struct{}
	wg   sync.WaitGroup
}

// Status is a snapshot of detector state.
type Status struct {
	ActiveSessions int                         `json:"active_sessions"`
	TotalConflicts int                         `json:"total_conflicts"`
	ByType         map[events.ConflictType]int `json:"by_type"`
	Recent         []events.Conflict           `json:"recent,omitempty"`
}

// New creates a detector, applying defaults for zero values.
func New(config Config) (*Detector, error) {
	defaults := DefaultConfig()
	if config.TimeWindow == 0 {
		config.TimeWindow = defaults.TimeWindow
	}
	if config.MaxSimultaneousEditors == 0 {
		config.MaxSimultaneousEditors = defaults.MaxSimultaneousEditors
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.HistorySize == 0 {
		config.HistorySize = defaults.HistorySize
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if err := validate.PositiveDuration("time window", config.TimeWindow); err != nil {
		return nil, err
	}
	if err := validate.PositiveInt("max simultaneous editors", config.MaxSimultaneousEditors); err != nil {
		return nil, err
	}
	if err := validate.PositiveDuration("sweep interval", config.SweepInterval); err != nil {
		return nil, err
	}
	if err := validate.PositiveInt("history size", config.HistorySize); err != nil {
		return nil, err
	}

	return &Detector{
		config:   config,
		logger:   logging.OrDefault(config.Logger, "conflict"),
		paths:    pathtab.New(),
		sessions: make([]session, 1),
		history:  make([]events.Conflict, 0, config.HistorySize),
		byType:   make(map[events.ConflictType]int),
	}, nil
}

// Name implements hub.Service.
func (d *Detector) Name() string { return ServiceName }

// Attach implements hub.Service and subscribes to file and editor events.
func (d *Detector) Attach(h *hub.Hub) {
	d.mu.Lock()
	d.hub = h
	d.mu.Unlock()

	h.OnFor(ServiceName, events.FileChanged, func(p any) error {
		change, ok := p.(events.FileChange)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedPayload, p)
		}
		if change.Editor == "" {
			return nil
		}
		_, err := d.HandleFileChange(change)
		return err
	})
	h.OnFor(ServiceName, events.EditorActivityEvent, func(p any) error {
		activity, ok := p.(events.EditorActivity)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedPayload, p)
		}
		_, err := d.HandleEditorActivity(activity)
		return err
	})
}

// Start begins the periodic sweep. Calling Start twice is a no-op.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return
	}
	d.stop = make(chan struct{})

	d.wg.Add(1)
	go d.sweepLoop(d.stop)
}

func (d *Detector) sweepLoop(stop chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := d.Sweep(); n > 0 {
				d.logger.Debug("swept stale sessions", "removed", n)
			}
		}
	}
}

// Shutdown stops the sweep and discards all sessions. Conflict history is kept.
func (d *Detector) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		d.wg.Wait()
	}

	d.mu.Lock()
	d.paths.Reset()
	d.sessions = make([]session, 1)
	d.mu.Unlock()
	return nil
}

// HandleFileChange records an edit by change.Editor and evaluates conflicts.
// It returns the conflict emitted, if any.
func (d *Detector) HandleFileChange(change events.FileChange) (*events.Conflict, error) {
	at, err := d.checkInput(change.Path, change.Editor, change.Timestamp)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	h := d.paths.Intern(change.Path)
	d.grow()
	s := &d.sessions[h]
	s.live = true
	s.touch(change.Editor, at)
	d.mu.Unlock()

	return d.CheckForConflicts(change.Path), nil
}

// HandleEditorActivity records an open or close. A close removes the
// editor's entry immediately regardless of its age.
func (d *Detector) HandleEditorActivity(activity events.EditorActivity) (*events.Conflict, error) {
	at, err := d.checkInput(activity.Path, activity.Editor, activity.Timestamp)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	switch activity.Action {
	case events.ActionOpen:
		h := d.paths.Intern(activity.Path)
		d.grow()
		s := &d.sessions[h]
		s.live = true
		s.touch(activity.Editor, at)
	case events.ActionClose:
		if h, ok := d.paths.Lookup(activity.Path); ok {
			s := &d.sessions[h]
			s.remove(activity.Editor)
			if len(s.entries) == 0 {
				d.release(h)
				d.mu.Unlock()
				return nil, nil
			}
		} else {
			d.mu.Unlock()
			return nil, nil
		}
	default:
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, activity.Action)
	}
	d.mu.Unlock()

	return d.CheckForConflicts(activity.Path), nil
}

func (d *Detector) checkInput(path, editor string, ts time.Time) (time.Time, error) {
	if err := validate.FilePath(path); err != nil {
		return time.Time{}, err
	}
	if err := validate.EditorID(editor); err != nil {
		return time.Time{}, err
	}
	now := d.config.Now()
	if ts.IsZero() {
		return now, nil
	}
	if err := validate.Timestamp(ts, now, clockSkew); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// grow extends the session arena to cover every issued handle. Caller holds d.mu.
func (d *Detector) grow() {
	for len(d.sessions) < d.paths.Cap() {
		d.sessions = append(d.sessions, session{})
	}
}

// release discards the session for h. Caller holds d.mu.
func (d *Detector) release(h pathtab.Handle) {
	d.sessions[h] = session{}
	d.paths.Release(h)
}

// CheckForConflicts classifies the editors currently active on path and
// emits a conflict when the classification changed since the last report.
func (d *Detector) CheckForConflicts(path string) *events.Conflict {
	now := d.config.Now()

	d.mu.Lock()
	h, ok := d.paths.Lookup(path)
	if !ok {
		d.mu.Unlock()
		return nil
	}
	s := &d.sessions[h]
	active := s.active(now, d.config.TimeWindow)

	var typ events.ConflictType
	switch {
	case len(active) > d.config.MaxSimultaneousEditors:
		typ = events.TooManyEditors
	case len(active) > 1:
		typ = events.SimultaneousEditing
	default:
		s.clearReported()
		d.mu.Unlock()
		return nil
	}

	if !s.escalates(typ, active) {
		d.mu.Unlock()
		return nil
	}

	c := events.Conflict{
		ID:        uuid.NewString(),
		Path:      path,
		Editors:   active,
		Type:      typ,
		Timestamp: now,
		Resolved:  false,
	}
	d.record(c)
	target := d.hub
	d.mu.Unlock()

	d.logger.Info("conflict detected", "path", path, "type", typ, "editors", strings.Join(active, ","))
	if target != nil {
		target.Emit(events.ConflictDetected, c)
	}
	return &c
}

// record appends c to the bounded history. Caller holds d.mu.
func (d *Detector) record(c events.Conflict) {
	d.total++
	d.byType[c.Type]++
	if len(d.history) < d.config.HistorySize {
		d.history = append(d.history, c)
		return
	}
	d.history[d.next] = c
	d.next = (d.next + 1) % d.config.HistorySize
}

// Sweep removes editor entries older than the window and discards sessions
// left empty or whose last edit predates the window. Returns the number of
// sessions discarded.
func (d *Detector) Sweep() int {
	now := d.config.Now()
	window := d.config.TimeWindow

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for i := 1; i < len(d.sessions); i++ {
		s := &d.sessions[i]
		if !s.live {
			continue
		}
		kept := s.entries[:0]
		for _, e := range s.entries {
			if now.Sub(e.last) <= window {
				kept = append(kept, e)
			}
		}
		s.entries = kept
		if len(s.entries) < 2 {
			s.clearReported()
		}
		if len(s.entries) == 0 || now.Sub(s.lastEdit) > window {
			d.release(pathtab.Handle(i))
			removed++
		}
	}
	return removed
}

// ActiveEditors returns the editors active on path within the window, in
// first-activity order.
func (d *Detector) ActiveEditors(path string) []string {
	now := d.config.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.paths.Lookup(path)
	if !ok {
		return nil
	}
	return d.sessions[h].active(now, d.config.TimeWindow)
}

// SessionCount returns the number of live editing sessions.
func (d *Detector) SessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paths.Len()
}

// Conflicts returns the retained conflict history, oldest first.
func (d *Detector) Conflicts() []events.Conflict {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.historyLocked()
}

func (d *Detector) historyLocked() []events.Conflict {
	out := make([]events.Conflict, 0, len(d.history))
	if len(d.history) < d.config.HistorySize {
		return append(out, d.history...)
	}
	out = append(out, d.history[d.next:]...)
	return append(out, d.history[:d.next]...)
}

// Status returns a snapshot of detector state.
func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	byType := make(map[events.ConflictType]int, len(d.byType))
	for k, v := range d.byType {
		byType[k] = v
	}
	hist := d.historyLocked()
	if len(hist) > 10 {
		hist = hist[len(hist)-10:]
	}
	return Status{
		ActiveSessions: d.paths.Len(),
		TotalConflicts: d.total,
		ByType:         byType,
		Recent:         hist,
	}
}
