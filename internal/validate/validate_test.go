package validate

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative", "src/a.js", false},
		{"absolute", "/home/u/a.go", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"nul", "a\x00b", true},
		{"too long", strings.Repeat("a", MaxPathLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FilePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("FilePath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("error should wrap ErrInvalid: %v", err)
			}
		})
	}
}

func TestEditorID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"alice", false},
		{"bob.smith@example.com", false},
		{"agent_7-b", false},
		{"", true},
		{"has space", true},
		{"semi;colon", true},
		{strings.Repeat("x", MaxEditorIDLength+1), true},
	}

	for _, tt := range tests {
		if err := EditorID(tt.id); (err != nil) != tt.wantErr {
			t.Errorf("EditorID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestNormalizeEditorID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice@example.com", "alice@example.com"},
		{"Alice Smith", "Alice-Smith"},
		{`CORP\jdoe`, "CORP-jdoe"},
		{"  bob  \n", "bob"},
		{"   ", ""},
		{"李", ""},
		{strings.Repeat("a", 200), strings.Repeat("a", MaxEditorIDLength)},
	}
	for _, tt := range tests {
		if got := NormalizeEditorID(tt.in); got != tt.want {
			t.Errorf("NormalizeEditorID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := Timestamp(now.Add(-time.Minute), now, time.Second); err != nil {
		t.Errorf("past timestamp rejected: %v", err)
	}
	if err := Timestamp(now.Add(500*time.Millisecond), now, time.Second); err != nil {
		t.Errorf("timestamp within skew rejected: %v", err)
	}
	if err := Timestamp(now.Add(time.Hour), now, time.Second); err == nil {
		t.Error("future timestamp accepted")
	}
	if err := Timestamp(time.Time{}, now, time.Second); err == nil {
		t.Error("zero timestamp accepted")
	}
}

func TestExtension(t *testing.T) {
	for _, ext := range []string{".go", ".js", ".md"} {
		if err := Extension(ext); err != nil {
			t.Errorf("Extension(%q) = %v", ext, err)
		}
	}
	for _, ext := range []string{"", ".", "go", ".a/b", ".tar.gz"} {
		if err := Extension(ext); err == nil {
			t.Errorf("Extension(%q) should fail", ext)
		}
	}
}

func TestEndpoint(t *testing.T) {
	valid := []string{"ws://localhost:8765/mcp", "wss://example.com", "http://127.0.0.1:9000"}
	for _, e := range valid {
		if err := Endpoint(e); err != nil {
			t.Errorf("Endpoint(%q) = %v", e, err)
		}
	}
	invalid := []string{"", "localhost:8765", "ftp://host", "ws://"}
	for _, e := range invalid {
		if err := Endpoint(e); err == nil {
			t.Errorf("Endpoint(%q) should fail", e)
		}
	}
}

func TestPositive(t *testing.T) {
	if err := PositiveDuration("window", 0); err == nil {
		t.Error("zero duration accepted")
	}
	if err := PositiveDuration("window", time.Second); err != nil {
		t.Errorf("positive duration rejected: %v", err)
	}
	if err := PositiveInt("max", -1); err == nil {
		t.Error("negative int accepted")
	}
	if err := PositiveInt("max", 3); err != nil {
		t.Errorf("positive int rejected: %v", err)
	}
}
