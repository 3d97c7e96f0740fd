package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Watcher.Debounce != 500*time.Millisecond || c.Watcher.MaxTracked != 1000 {
		t.Errorf("unexpected watcher defaults %+v", c.Watcher)
	}
	if c.Conflict.TimeWindow != 5*time.Minute || c.Conflict.MaxSimultaneousEditors != 3 || c.Conflict.SweepInterval != time.Minute {
		t.Errorf("unexpected conflict defaults %+v", c.Conflict)
	}
	if c.Collab.InsightsInterval != 5*time.Minute || c.Collab.HotFileLimit != 10 || c.Collab.TopN != 5 {
		t.Errorf("unexpected collab defaults %+v", c.Collab)
	}
	m := c.MCP
	if m.Enabled || m.HeartbeatInterval != 30*time.Second || m.ReconnectBaseDelay != time.Second ||
		m.ReconnectMaxDelay != 30*time.Second || m.MaxReconnectAttempts != 10 || m.MaxMessageSize != 1<<20 || m.MaxOutstanding != 16 {
		t.Errorf("unexpected mcp defaults %+v", m)
	}
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if c.Watcher.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %v, want 500ms", c.Watcher.Debounce)
	}
	if len(c.Watcher.Extensions) == 0 {
		t.Error("default extensions not loaded")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "wsmon.yaml", `
root: /work
watcher:
  debounce: 250ms
  extensions: [".go"]
conflict:
  max_simultaneous_editors: 5
mcp:
  enabled: true
  endpoint: ws://localhost:9000/mcp
`)
	c, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if c.Root != "/work" || c.Watcher.Debounce != 250*time.Millisecond {
		t.Errorf("unexpected config %+v", c)
	}
	if len(c.Watcher.Extensions) != 1 || c.Watcher.Extensions[0] != ".go" {
		t.Errorf("Extensions = %v", c.Watcher.Extensions)
	}
	if c.Conflict.MaxSimultaneousEditors != 5 || c.Conflict.TimeWindow != 5*time.Minute {
		t.Errorf("unexpected conflict config %+v", c.Conflict)
	}
	if !c.MCP.Enabled || c.MCP.Endpoint != "ws://localhost:9000/mcp" {
		t.Errorf("unexpected mcp config %+v", c.MCP)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeFile(t, "wsmon.toml", `
root = "/work"

[collab]
hot_file_limit = 7
insights_interval = "1m"
`)
	c, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if c.Collab.HotFileLimit != 7 || c.Collab.InsightsInterval != time.Minute {
		t.Errorf("unexpected collab config %+v", c.Collab)
	}
}

func TestLoad_EnvAndFlags(t *testing.T) {
	path := writeFile(t, "wsmon.yaml", "root: /from-file\nlog:\n  level: warn\n")
	t.Setenv("WSMON_WATCHER_DEBOUNCE", "2s")
	t.Setenv("WSMON_LOG_LEVEL", "error")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("root", "", "")
	flags.Int("dashboard-port", 8080, "")
	if err := flags.Parse([]string{"--root", "/from-flag", "--dashboard-port", "9090"}); err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	c, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if c.Watcher.Debounce != 2*time.Second {
		t.Errorf("Debounce = %v, want env override 2s", c.Watcher.Debounce)
	}
	if c.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want env override (unset flag must not win)", c.Log.Level)
	}
	if c.Root != "/from-flag" || c.Dashboard.Port != 9090 {
		t.Errorf("flags not applied: root=%q port=%d", c.Root, c.Dashboard.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Root = "/work"
		return c
	}

	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"missing root", func(c *Config) { c.Root = "" }, "root"},
		{"bad extension", func(c *Config) { c.Watcher.Extensions = []string{"go"} }, "watcher.extensions"},
		{"zero debounce", func(c *Config) { c.Watcher.Debounce = 0 }, "watcher.debounce"},
		{"negative max editors", func(c *Config) { c.Conflict.MaxSimultaneousEditors = -1 }, "conflict.max_simultaneous_editors"},
		{"backoff cap below base", func(c *Config) { c.MCP.ReconnectMaxDelay = time.Millisecond }, "mcp.reconnect_max_delay"},
		{"mcp without endpoint", func(c *Config) { c.MCP.Enabled = true }, "mcp.endpoint"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad editor", func(c *Config) { c.Watcher.Editor = "two words" }, "watcher.editor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mod(c)
			err := c.Validate()
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Validate() = %v, want ErrConfiguration", err)
			}
			var ce *ConfigurationError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Errorf("Field = %v, want %q", err, tt.field)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("Validate() on defaults with root = %v", err)
	}
}

// TestWriteYAML verifies rendered YAML loads back through Load.
func TestWriteYAML(t *testing.T) {
	c := Default()
	c.Root = "/work"
	c.Watcher.Debounce = 750 * time.Millisecond

	var buf bytes.Buffer
	if err := WriteYAML(&buf, c); err != nil {
		t.Fatalf("WriteYAML() failed: %v", err)
	}
	if !strings.Contains(buf.String(), "debounce: 750ms") {
		t.Errorf("durations should render as strings:\n%s", buf.String())
	}

	var raw map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}

	path := writeFile(t, "out.yaml", buf.String())
	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Watcher.Debounce != 750*time.Millisecond || loaded.Root != "/work" {
		t.Errorf("unexpected reloaded config %+v", loaded.Watcher)
	}
}

func TestWriteTOML(t *testing.T) {
	c := Default()
	c.Root = "/work"

	var buf bytes.Buffer
	if err := WriteTOML(&buf, c); err != nil {
		t.Fatalf("WriteTOML() failed: %v", err)
	}

	var raw map[string]any
	if _, err := toml.Decode(buf.String(), &raw); err != nil {
		t.Fatalf("output is not TOML: %v\n%s", err, buf.String())
	}
	if raw["root"] != "/work" {
		t.Errorf("root = %v", raw["root"])
	}
	conflict, ok := raw["conflict"].(map[string]any)
	if !ok || conflict["time_window"] != "5m0s" {
		t.Errorf("conflict section = %v", raw["conflict"])
	}
}
