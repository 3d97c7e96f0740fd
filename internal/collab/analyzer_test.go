package collab

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/hub"
	"github.com/steveyegge/wsmon/internal/logging"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupAnalyzer(t *testing.T, mod func(*Config)) (*Analyzer, *hub.Hub) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return epoch }
	cfg.Logger = logging.Discard()
	if mod != nil {
		mod(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	h := hub.New(logging.Discard())
	if err := h.Register(a); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, h
}

func change(path, editor string, offset time.Duration) events.FileChange {
	return events.FileChange{Path: path, Op: events.OpModify, Editor: editor, Timestamp: epoch.Add(offset)}
}

// TestPrimaryOwner verifies ownership follows the highest edit count and
// ties resolve to the contributor seen first.
func TestPrimaryOwner(t *testing.T) {
	a, h := setupAnalyzer(t, nil)

	steps := []struct {
		editor string
		want   string
	}{
		{"alice", "alice"},
		{"bob", "alice"}, // 1-1, alice first
		{"bob", "bob"},   // 1-2
		{"alice", "alice"},
		{"carol", "alice"},
	}
	for i, s := range steps {
		h.Emit(events.FileChanged, change("/a.go", s.editor, time.Duration(i)*time.Second))
		o, ok := a.Ownership("/a.go")
		if !ok {
			t.Fatalf("step %d: no ownership", i)
		}
		if o.PrimaryOwner != s.want {
			t.Errorf("step %d: PrimaryOwner = %q, want %q", i, o.PrimaryOwner, s.want)
		}
	}

	o, _ := a.Ownership("/a.go")
	if o.LastActivity != epoch.Add(4*time.Second) {
		t.Errorf("LastActivity = %v", o.LastActivity)
	}
	if len(o.Contributors) != 3 || o.Contributors[0].Count != 2 {
		t.Errorf("unexpected contributors %+v", o.Contributors)
	}
	if _, ok := a.Ownership("/unknown.go"); ok {
		t.Error("Ownership() should report false for an unknown path")
	}
}

// TestPrimaryOwner_MatchesRederivation verifies the incrementally maintained
// owner equals one recomputed from the full edit counts.
func TestPrimaryOwner_MatchesRederivation(t *testing.T) {
	a, _ := setupAnalyzer(t, nil)
	rng := rand.New(rand.NewSource(42))
	editors := []string{"alice", "bob", "carol", "dave"}

	for i := 0; i < 500; i++ {
		path := fmt.Sprintf("/f%d.go", rng.Intn(4))
		editor := editors[rng.Intn(len(editors))]
		if err := a.TrackFileActivity(change(path, editor, time.Duration(i)*time.Millisecond)); err != nil {
			t.Fatalf("TrackFileActivity() failed: %v", err)
		}

		o, _ := a.Ownership(path)
		best := o.Contributors[0]
		for _, c := range o.Contributors[1:] {
			if c.Count > best.Count {
				best = c
			}
		}
		if o.PrimaryOwner != best.Editor {
			t.Fatalf("edit %d on %s: PrimaryOwner = %q, re-derived %q (%+v)", i, path, o.PrimaryOwner, best.Editor, o.Contributors)
		}
	}
}

// TestHotFiles_BoundedAndSorted verifies the hot list never exceeds its
// limit and stays sorted by conflict count.
func TestHotFiles_BoundedAndSorted(t *testing.T) {
	a, _ := setupAnalyzer(t, nil)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		c := events.Conflict{
			Path:      fmt.Sprintf("/f%d.go", rng.Intn(25)),
			Editors:   []string{"alice"},
			Type:      events.SimultaneousEditing,
			Timestamp: epoch.Add(time.Duration(i) * time.Second),
		}
		if _, err := a.AnalyzeConflictPattern(c); err != nil {
			t.Fatalf("AnalyzeConflictPattern() failed: %v", err)
		}

		hot := a.HotFiles()
		if len(hot) > 10 {
			t.Fatalf("hot list length %d exceeds 10", len(hot))
		}
		if !sort.SliceIsSorted(hot, func(i, j int) bool { return hot[i].Conflicts > hot[j].Conflicts }) {
			t.Fatalf("hot list not sorted: %+v", hot)
		}
	}
}

// TestHotFiles_ReentersWithFullCount verifies a file dropped from the list
// returns with its accumulated count.
func TestHotFiles_ReentersWithFullCount(t *testing.T) {
	a, _ := setupAnalyzer(t, func(c *Config) { c.HotFileLimit = 2 })

	hit := func(path string, n int) {
		for i := 0; i < n; i++ {
			a.AnalyzeConflictPattern(events.Conflict{Path: path, Timestamp: epoch})
		}
	}
	hit("/a.go", 3)
	hit("/b.go", 5)
	hit("/c.go", 1) // evicted immediately
	hit("/c.go", 3) // now 4, beats a.go

	hot := a.HotFiles()
	if len(hot) != 2 || hot[0].Path != "/b.go" || hot[1].Path != "/c.go" || hot[1].Conflicts != 4 {
		t.Errorf("unexpected hot list %+v", hot)
	}
}

func TestSuggestionPriority(t *testing.T) {
	tests := []struct {
		name    string
		editors []string
		want    events.Priority
		none    bool
	}{
		{"single editor", []string{"alice"}, "", true},
		{"two editors", []string{"alice", "bob"}, events.PriorityMedium, false},
		{"three editors", []string{"alice", "bob", "carol"}, events.PriorityHigh, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := setupAnalyzer(t, nil)
			var got []events.Suggestion
			h.On(events.CollaborationSuggestion, func(p any) error {
				got = append(got, p.(events.Suggestion))
				return nil
			})

			h.Emit(events.ConflictDetected, events.Conflict{
				ID: "c1", Path: "/src/app.js", Editors: tt.editors, Type: events.SimultaneousEditing, Timestamp: epoch,
			})

			if tt.none {
				if len(got) != 0 {
					t.Errorf("got %d suggestions, want none", len(got))
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("got %d suggestions, want 1", len(got))
			}
			s := got[0]
			if s.Priority != tt.want {
				t.Errorf("Priority = %q, want %q", s.Priority, tt.want)
			}
			if s.Type != SuggestionCoordinate || s.Subject != "Coordinate changes to /src/app.js" {
				t.Errorf("unexpected suggestion %+v", s)
			}
			if len(s.Participants) != len(tt.editors) || s.ID == "" {
				t.Errorf("unexpected suggestion %+v", s)
			}
		})
	}
}

// TestGenerateInsights verifies team size, tracked files, and top-N bounds.
func TestGenerateInsights(t *testing.T) {
	a, h := setupAnalyzer(t, func(c *Config) { c.TopN = 2 })

	edits := []struct {
		path, editor string
		n            int
	}{
		{"/a.go", "alice", 5},
		{"/b.go", "bob", 2},
		{"/c.go", "carol", 3},
		{"/a.go", "dave", 1},
	}
	for _, e := range edits {
		for i := 0; i < e.n; i++ {
			h.Emit(events.FileChanged, change(e.path, e.editor, time.Duration(i)*time.Second))
		}
	}
	for _, p := range []string{"/a.go", "/a.go", "/b.go", "/c.go"} {
		h.Emit(events.ConflictDetected, events.Conflict{Path: p, Editors: []string{"alice", "bob"}, Timestamp: epoch})
	}

	in := a.GenerateInsights()
	if in.TeamSize != 4 {
		t.Errorf("TeamSize = %d, want 4", in.TeamSize)
	}
	if in.TrackedFiles != 3 {
		t.Errorf("TrackedFiles = %d, want 3", in.TrackedFiles)
	}
	if len(in.HotFiles) != 2 || in.HotFiles[0].Path != "/a.go" || in.HotFiles[0].Conflicts != 2 {
		t.Errorf("HotFiles = %+v", in.HotFiles)
	}
	if len(in.TopContributors) != 2 || in.TopContributors[0].Editor != "alice" || in.TopContributors[1].Editor != "carol" {
		t.Errorf("TopContributors = %+v", in.TopContributors)
	}
	if in.Suggestions != 4 {
		t.Errorf("Suggestions = %d, want 4", in.Suggestions)
	}
	if !in.GeneratedAt.Equal(epoch) {
		t.Errorf("GeneratedAt = %v", in.GeneratedAt)
	}
}

// TestStart_PublishesInsights verifies insights are emitted on the interval.
func TestStart_PublishesInsights(t *testing.T) {
	a, h := setupAnalyzer(t, func(c *Config) { c.InsightsInterval = 10 * time.Millisecond })

	var once sync.Once
	got := make(chan events.Insights, 1)
	h.On(events.CollaborationInsights, func(p any) error {
		once.Do(func() { got <- p.(events.Insights) })
		return nil
	})

	a.Start()
	a.Start()
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for insights")
	}
}

// TestShutdown_Resets verifies Shutdown clears analytics and is idempotent.
func TestShutdown_Resets(t *testing.T) {
	a, h := setupAnalyzer(t, nil)
	a.Start()
	h.Emit(events.FileChanged, change("/a.go", "alice", 0))

	for i := 0; i < 2; i++ {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() failed: %v", err)
		}
	}
	if in := a.GenerateInsights(); in.TeamSize != 0 || in.TrackedFiles != 0 {
		t.Errorf("insights after Shutdown = %+v", in)
	}
}

func TestTrackFileActivity_RejectsInvalid(t *testing.T) {
	a, _ := setupAnalyzer(t, nil)
	if err := a.TrackFileActivity(events.FileChange{Path: "", Editor: "alice"}); err == nil {
		t.Error("expected error for empty path")
	}
	if err := a.TrackFileActivity(events.FileChange{Path: "/a.go", Editor: "bad editor"}); err == nil {
		t.Error("expected error for invalid editor")
	}
}
