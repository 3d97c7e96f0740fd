package loadtest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/wsmon/internal/events"
)

func TestRun_Small(t *testing.T) {
	opts := DefaultOptions()
	opts.Editors = 10
	opts.Files = 5
	opts.EditsPerEditor = 20

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if res.Latency.TotalEmits != 200 {
		t.Errorf("TotalEmits = %d, want 200", res.Latency.TotalEmits)
	}
	// Ten editors on five files must collide.
	if res.Conflicts == 0 || res.ByType[events.TooManyEditors] == 0 {
		t.Errorf("expected conflicts, got %+v", res.ByType)
	}
	if res.Suggestions == 0 {
		t.Error("expected suggestions")
	}
	if res.HotFiles > opts.HotFileLimit {
		t.Errorf("HotFiles = %d, limit %d", res.HotFiles, opts.HotFileLimit)
	}

	var buf bytes.Buffer
	res.Print(&buf)
	if !strings.Contains(buf.String(), "Total Emits:   200") {
		t.Errorf("unexpected report:\n%s", buf.String())
	}
}

// TestRun_NoOverlap verifies a single editor raises no conflicts.
func TestRun_NoOverlap(t *testing.T) {
	res, err := Run(context.Background(), Options{Editors: 1, Files: 3, EditsPerEditor: 50, Seed: 1})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Conflicts != 0 || res.Suggestions != 0 {
		t.Errorf("unexpected conflicts %d, suggestions %d", res.Conflicts, res.Suggestions)
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	if _, err := Run(context.Background(), Options{}); err == nil {
		t.Error("Run() should reject zero options")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	s := computeLatencyStats(durations)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond || s.P99 != 100*time.Millisecond {
		t.Errorf("P50/P99 = %v/%v", s.P50, s.P99)
	}
	if s.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v", s.Mean)
	}
	if s.TotalEmits != 100 {
		t.Errorf("TotalEmits = %d", s.TotalEmits)
	}
}
