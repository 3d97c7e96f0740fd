// Package loadtest drives the event pipeline with simulated editors.
//
// A run registers a conflict detector and a collaboration analyzer on a
// fresh hub and has many editors emit file:changed events against a shared
// set of files concurrently. It reports emit latency and checks that the
// pipeline's bounded state stays within its limits under contention.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/wsmon/internal/collab"
	"github.com/steveyegge/wsmon/internal/conflict"
	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/hub"
	"github.com/steveyegge/wsmon/internal/logging"
)

// Options configures a run.
type Options struct {
	// Editors is the number of concurrent simulated editors.
	Editors int
	// Files is the size of the shared file set.
	Files int
	// EditsPerEditor is how many changes each editor emits.
	EditsPerEditor int
	// HotFileLimit bounds the analyzer's hot file list.
	HotFileLimit int
	// MaxSimultaneousEditors is the detector's too_many_editors threshold.
	MaxSimultaneousEditors int
	// Seed makes file selection reproducible.
	Seed int64
}

// DefaultOptions returns a moderate run: 50 editors, 200 files.
func DefaultOptions() Options {
	return Options{
		Editors:                50,
		Files:                  200,
		EditsPerEditor:         100,
		HotFileLimit:           10,
		MaxSimultaneousEditors: 3,
		Seed:                   42,
	}
}

// LatencyStats captures emit latency from a run.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalEmits int
}

// Result summarizes a run.
type Result struct {
	Latency     LatencyStats
	Elapsed     time.Duration
	Conflicts   int
	ByType      map[events.ConflictType]int
	Suggestions int
	HotFiles    int
	TeamSize    int
	HubErrors   int64
}

// Throughput returns emits per second.
func (r *Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Latency.TotalEmits) / r.Elapsed.Seconds()
}

// Run executes a load test. It returns an error if a bounded structure
// exceeded its limit or a hub handler failed.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Editors <= 0 || opts.Files <= 0 || opts.EditsPerEditor <= 0 {
		return nil, fmt.Errorf("editors, files and edits per editor must be positive")
	}

	h := hub.New(logging.Discard())
	detector, err := conflict.New(conflict.Config{
		MaxSimultaneousEditors: opts.MaxSimultaneousEditors,
		Logger:                 logging.Discard(),
	})
	if err != nil {
		return nil, err
	}
	analyzer, err := collab.New(collab.Config{
		HotFileLimit: opts.HotFileLimit,
		Logger:       logging.Discard(),
	})
	if err != nil {
		return nil, err
	}
	for _, s := range []hub.Service{detector, analyzer} {
		if err := h.Register(s); err != nil {
			return nil, err
		}
	}
	defer func() { _ = h.Shutdown(context.Background()) }()

	files := make([]string, opts.Files)
	for i := range files {
		files[i] = fmt.Sprintf("/workspace/src/file-%04d.go", i)
	}

	var wg sync.WaitGroup
	results := make(chan []time.Duration, opts.Editors)

	start := time.Now()
	for i := 0; i < opts.Editors; i++ {
		wg.Add(1)
		go func(editor int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(opts.Seed + int64(editor)))
			name := fmt.Sprintf("editor-%03d", editor)
			durations := make([]time.Duration, 0, opts.EditsPerEditor)

			for j := 0; j < opts.EditsPerEditor; j++ {
				if ctx.Err() != nil {
					break
				}
				change := events.FileChange{
					Path:      files[rng.Intn(len(files))],
					Op:        events.OpModify,
					Editor:    name,
					Timestamp: time.Now(),
				}
				t0 := time.Now()
				h.Emit(events.FileChanged, change)
				durations = append(durations, time.Since(t0))
			}
			results <- durations
		}(i)
	}
	wg.Wait()
	close(results)
	elapsed := time.Since(start)

	var all []time.Duration
	for d := range results {
		all = append(all, d...)
	}
	if len(all) == 0 {
		return nil, errors.Join(ctx.Err(), errors.New("no events emitted"))
	}

	status := detector.Status()
	insights := analyzer.GenerateInsights()
	res := &Result{
		Latency:     computeLatencyStats(all),
		Elapsed:     elapsed,
		Conflicts:   status.TotalConflicts,
		ByType:      status.ByType,
		Suggestions: len(analyzer.Suggestions()),
		HotFiles:    len(analyzer.HotFiles()),
		TeamSize:    insights.TeamSize,
		HubErrors:   h.Status().ErrorCount,
	}

	return res, verify(res, opts, detector)
}

func verify(res *Result, opts Options, detector *conflict.Detector) error {
	var errs []error
	if opts.HotFileLimit > 0 && res.HotFiles > opts.HotFileLimit {
		errs = append(errs, fmt.Errorf("hot files %d exceed limit %d", res.HotFiles, opts.HotFileLimit))
	}
	if res.TeamSize != opts.Editors {
		errs = append(errs, fmt.Errorf("team size %d, want %d", res.TeamSize, opts.Editors))
	}
	if res.HubErrors > 0 {
		errs = append(errs, fmt.Errorf("%d hub handler errors", res.HubErrors))
	}
	for _, c := range detector.Conflicts() {
		if len(c.Editors) < 2 {
			errs = append(errs, fmt.Errorf("conflict %s on %s has %d editors", c.ID, c.Path, len(c.Editors)))
			break
		}
	}
	return errors.Join(errs...)
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalEmits: len(durations),
	}
}

// Print writes a human readable report to w.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "Emit Latency:\n")
	fmt.Fprintf(w, "  Total Emits:   %d\n", r.Latency.TotalEmits)
	fmt.Fprintf(w, "  Min:           %v\n", r.Latency.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", r.Latency.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", r.Latency.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", r.Latency.P95)
	fmt.Fprintf(w, "  P99:           %v\n", r.Latency.P99)
	fmt.Fprintf(w, "  Max:           %v\n", r.Latency.Max)
	fmt.Fprintf(w, "Pipeline:\n")
	fmt.Fprintf(w, "  Elapsed:       %v (%.0f emits/s)\n", r.Elapsed.Truncate(time.Millisecond), r.Throughput())
	fmt.Fprintf(w, "  Conflicts:     %d (%d simultaneous, %d too many editors)\n",
		r.Conflicts, r.ByType[events.SimultaneousEditing], r.ByType[events.TooManyEditors])
	fmt.Fprintf(w, "  Suggestions:   %d\n", r.Suggestions)
	fmt.Fprintf(w, "  Hot Files:     %d\n", r.HotFiles)
	fmt.Fprintf(w, "  Team Size:     %d\n", r.TeamSize)
}
