// Package validate holds pure shape checks for paths, editor identifiers,
// timestamps, and configuration values.
package validate

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// MaxPathLength bounds accepted file paths.
	MaxPathLength = 4096
	// MaxEditorIDLength bounds accepted editor identifiers.
	MaxEditorIDLength = 128
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid value")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// FilePath checks that p is a usable file path.
func FilePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return invalid("file path is empty")
	}
	if len(p) > MaxPathLength {
		return invalid("file path exceeds %d bytes", MaxPathLength)
	}
	if strings.ContainsRune(p, 0) {
		return invalid("file path contains NUL byte")
	}
	return nil
}

// EditorID checks that id is a non-empty identifier made of letters,
// digits, and the characters . _ - @.
func EditorID(id string) error {
	if id == "" {
		return invalid("editor id is empty")
	}
	if len(id) > MaxEditorIDLength {
		return invalid("editor id exceeds %d characters", MaxEditorIDLength)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-', r == '@':
		default:
			return invalid("editor id %q contains %q", id, r)
		}
	}
	return nil
}

// NormalizeEditorID turns s into a valid editor id by replacing disallowed
// characters with '-' and truncating. It returns "" if nothing usable remains.
func NormalizeEditorID(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-', r == '@':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	id := strings.Trim(b.String(), "-")
	if len(id) > MaxEditorIDLength {
		id = id[:MaxEditorIDLength]
	}
	if EditorID(id) != nil {
		return ""
	}
	return id
}

// Timestamp checks that t is set and not further than skew past now.
func Timestamp(t, now time.Time, skew time.Duration) error {
	if t.IsZero() {
		return invalid("timestamp is zero")
	}
	if t.After(now.Add(skew)) {
		return invalid("timestamp %s is in the future", t.Format(time.RFC3339))
	}
	return nil
}

// Extension checks a file extension such as ".go".
func Extension(ext string) error {
	if len(ext) < 2 || ext[0] != '.' {
		return invalid("extension %q must start with '.'", ext)
	}
	if strings.ContainsAny(ext[1:], `./\ `) {
		return invalid("extension %q contains a separator", ext)
	}
	return nil
}

// PositiveDuration checks that d > 0.
func PositiveDuration(name string, d time.Duration) error {
	if d <= 0 {
		return invalid("%s must be positive (got %s)", name, d)
	}
	return nil
}

// PositiveInt checks that n > 0.
func PositiveInt(name string, n int) error {
	if n <= 0 {
		return invalid("%s must be positive (got %d)", name, n)
	}
	return nil
}

// Endpoint checks that raw is an absolute ws, wss, http, or https URL.
func Endpoint(raw string) error {
	if raw == "" {
		return invalid("endpoint is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("endpoint %q: %v", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return invalid("endpoint %q has unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return invalid("endpoint %q has no host", raw)
	}
	return nil
}
