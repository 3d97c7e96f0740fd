package watcher

import (
	"errors"
	"fmt"
)

var (
	// ErrWatchFailed is matched by every *WatchFailureError.
	ErrWatchFailed = errors.New("watch failed")

	// ErrNotRunning is returned when adding a directory after StopAll.
	ErrNotRunning = errors.New("watcher not running")
)

// WatchFailureError reports that one directory could not be watched.
// It is recoverable: other directories keep being watched.
type WatchFailureError struct {
	Path string
	Err  error
}

func (e *WatchFailureError) Error() string {
	return fmt.Sprintf("failed to watch %s: %v", e.Path, e.Err)
}

func (e *WatchFailureError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrWatchFailed) true.
func (e *WatchFailureError) Is(target error) bool {
	return target == ErrWatchFailed
}
