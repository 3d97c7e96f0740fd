// Package config loads workspace monitor configuration from defaults, an
// optional file (YAML, TOML or JSON), WSMON_* environment variables and
// command line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/wsmon/internal/collab"
	"github.com/steveyegge/wsmon/internal/conflict"
	"github.com/steveyegge/wsmon/internal/logging"
	"github.com/steveyegge/wsmon/internal/mcp"
	"github.com/steveyegge/wsmon/internal/validate"
	"github.com/steveyegge/wsmon/internal/watcher"
)

// EnvPrefix prefixes environment overrides: WSMON_WATCHER_DEBOUNCE=1s.
const EnvPrefix = "WSMON"

// Config is the complete monitor configuration.
type Config struct {
	// Root is the directory tree to watch.
	Root string `mapstructure:"root"`

	// StatusInterval is how often a monitor:status event is published.
	StatusInterval time.Duration `mapstructure:"status_interval"`

	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Conflict  ConflictConfig  `mapstructure:"conflict"`
	Collab    CollabConfig    `mapstructure:"collab"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

type WatcherConfig struct {
	Extensions  []string      `mapstructure:"extensions"`
	IgnorePaths []string      `mapstructure:"ignore_paths"`
	Debounce    time.Duration `mapstructure:"debounce"`
	MaxTracked  int           `mapstructure:"max_tracked"`
	Editor      string        `mapstructure:"editor"`
}

type ConflictConfig struct {
	TimeWindow             time.Duration `mapstructure:"time_window"`
	MaxSimultaneousEditors int           `mapstructure:"max_simultaneous_editors"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval"`
	HistorySize            int           `mapstructure:"history_size"`
}

type CollabConfig struct {
	InsightsInterval time.Duration `mapstructure:"insights_interval"`
	HotFileLimit     int           `mapstructure:"hot_file_limit"`
	TopN             int           `mapstructure:"top_n"`
	MaxSuggestions   int           `mapstructure:"max_suggestions"`
}

type MCPConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Endpoint             string        `mapstructure:"endpoint"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	MaxMessageSize       int           `mapstructure:"max_message_size"`
	Compression          bool          `mapstructure:"compression"`
	CompressionThreshold int           `mapstructure:"compression_threshold"`
	MaxOutstanding       int           `mapstructure:"max_outstanding"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Default returns the built-in configuration. Root is left empty.
func Default() *Config {
	w := watcher.DefaultConfig()
	d := conflict.DefaultConfig()
	a := collab.DefaultConfig()
	m := mcp.DefaultConfig()

	return &Config{
		StatusInterval: 30 * time.Second,
		Watcher: WatcherConfig{
			Extensions:  w.Extensions,
			IgnorePaths: w.IgnorePaths,
			Debounce:    w.Debounce,
			MaxTracked:  w.MaxTracked,
			Editor:      w.Editor,
		},
		Conflict: ConflictConfig{
			TimeWindow:             d.TimeWindow,
			MaxSimultaneousEditors: d.MaxSimultaneousEditors,
			SweepInterval:          d.SweepInterval,
			HistorySize:            d.HistorySize,
		},
		Collab: CollabConfig{
			InsightsInterval: a.InsightsInterval,
			HotFileLimit:     a.HotFileLimit,
			TopN:             a.TopN,
			MaxSuggestions:   a.MaxSuggestions,
		},
		MCP: MCPConfig{
			Enabled:              m.Enabled,
			HeartbeatInterval:    m.HeartbeatInterval,
			ReconnectBaseDelay:   m.ReconnectBaseDelay,
			ReconnectMaxDelay:    m.ReconnectMaxDelay,
			MaxReconnectAttempts: m.MaxReconnectAttempts,
			MaxMessageSize:       m.MaxMessageSize,
			Compression:          m.Compression,
			CompressionThreshold: m.CompressionThreshold,
			MaxOutstanding:       m.MaxOutstanding,
			WriteTimeout:         m.WriteTimeout,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Dashboard: DashboardConfig{
			Port: 8080,
		},
	}
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"root":           "root",
	"log-level":      "log.level",
	"log-file":       "log.file",
	"dashboard":      "dashboard.enabled",
	"dashboard-port": "dashboard.port",
	"mcp-endpoint":   "mcp.endpoint",
	"mcp":            "mcp.enabled",
	"debounce":       "watcher.debounce",
	"editor":         "watcher.editor",
}

// Load builds a Config. path may be empty; flags may be nil. Only flags
// named in flagKeys and explicitly set override file and environment values.
// The result is not validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range flatten("", Default().Map()) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every field and returns the first *ConfigurationError.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return &ConfigurationError{Field: "root", Reason: "is required"}
	}
	if err := validate.FilePath(c.Root); err != nil {
		return fieldError("root", err)
	}
	for _, ext := range c.Watcher.Extensions {
		if err := validate.Extension(ext); err != nil {
			return fieldError("watcher.extensions", err)
		}
	}

	durations := []struct {
		field string
		d     time.Duration
	}{
		{"status_interval", c.StatusInterval},
		{"watcher.debounce", c.Watcher.Debounce},
		{"conflict.time_window", c.Conflict.TimeWindow},
		{"conflict.sweep_interval", c.Conflict.SweepInterval},
		{"collab.insights_interval", c.Collab.InsightsInterval},
		{"mcp.heartbeat_interval", c.MCP.HeartbeatInterval},
		{"mcp.reconnect_base_delay", c.MCP.ReconnectBaseDelay},
		{"mcp.reconnect_max_delay", c.MCP.ReconnectMaxDelay},
		{"mcp.write_timeout", c.MCP.WriteTimeout},
	}
	for _, d := range durations {
		if err := validate.PositiveDuration(d.field, d.d); err != nil {
			return fieldError(d.field, err)
		}
	}

	ints := []struct {
		field string
		n     int
	}{
		{"watcher.max_tracked", c.Watcher.MaxTracked},
		{"conflict.max_simultaneous_editors", c.Conflict.MaxSimultaneousEditors},
		{"conflict.history_size", c.Conflict.HistorySize},
		{"collab.hot_file_limit", c.Collab.HotFileLimit},
		{"collab.top_n", c.Collab.TopN},
		{"collab.max_suggestions", c.Collab.MaxSuggestions},
		{"mcp.max_reconnect_attempts", c.MCP.MaxReconnectAttempts},
		{"mcp.max_message_size", c.MCP.MaxMessageSize},
		{"mcp.max_outstanding", c.MCP.MaxOutstanding},
	}
	for _, n := range ints {
		if err := validate.PositiveInt(n.field, n.n); err != nil {
			return fieldError(n.field, err)
		}
	}

	if c.MCP.ReconnectMaxDelay < c.MCP.ReconnectBaseDelay {
		return &ConfigurationError{Field: "mcp.reconnect_max_delay", Reason: "is below reconnect_base_delay"}
	}
	if c.MCP.Enabled {
		if err := validate.Endpoint(c.MCP.Endpoint); err != nil {
			return fieldError("mcp.endpoint", err)
		}
	}
	if c.Watcher.Editor != "" {
		if err := validate.EditorID(c.Watcher.Editor); err != nil {
			return fieldError("watcher.editor", err)
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fieldError("log.level", err)
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 0 || c.Dashboard.Port > 65535) {
		return &ConfigurationError{Field: "dashboard.port", Reason: fmt.Sprintf("%d is out of range", c.Dashboard.Port)}
	}
	return nil
}

// Map returns c as nested maps keyed by configuration key. Durations are
// rendered as strings ("500ms").
func (c *Config) Map() map[string]any {
	return map[string]any{
		"root":            c.Root,
		"status_interval": c.StatusInterval.String(),
		"watcher": map[string]any{
			"extensions":   c.Watcher.Extensions,
			"ignore_paths": c.Watcher.IgnorePaths,
			"debounce":     c.Watcher.Debounce.String(),
			"max_tracked":  c.Watcher.MaxTracked,
			"editor":       c.Watcher.Editor,
		},
		"conflict": map[string]any{
			"time_window":              c.Conflict.TimeWindow.String(),
			"max_simultaneous_editors": c.Conflict.MaxSimultaneousEditors,
			"sweep_interval":           c.Conflict.SweepInterval.String(),
			"history_size":             c.Conflict.HistorySize,
		},
		"collab": map[string]any{
			"insights_interval": c.Collab.InsightsInterval.String(),
			"hot_file_limit":    c.Collab.HotFileLimit,
			"top_n":             c.Collab.TopN,
			"max_suggestions":   c.Collab.MaxSuggestions,
		},
		"mcp": map[string]any{
			"enabled":                c.MCP.Enabled,
			"endpoint":               c.MCP.Endpoint,
			"heartbeat_interval":     c.MCP.HeartbeatInterval.String(),
			"reconnect_base_delay":   c.MCP.ReconnectBaseDelay.String(),
			"reconnect_max_delay":    c.MCP.ReconnectMaxDelay.String(),
			"max_reconnect_attempts": c.MCP.MaxReconnectAttempts,
			"max_message_size":       c.MCP.MaxMessageSize,
			"compression":            c.MCP.Compression,
			"compression_threshold":  c.MCP.CompressionThreshold,
			"max_outstanding":        c.MCP.MaxOutstanding,
			"write_timeout":          c.MCP.WriteTimeout.String(),
		},
		"log": map[string]any{
			"level":        c.Log.Level,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"compress":     c.Log.Compress,
		},
		"dashboard": map[string]any{
			"enabled": c.Dashboard.Enabled,
			"port":    c.Dashboard.Port,
		},
	}
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// WriteYAML renders c as YAML.
func WriteYAML(w io.Writer, c *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Map()); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

// WriteTOML renders c as TOML.
func WriteTOML(w io.Writer, c *Config) error {
	if err := toml.NewEncoder(w).Encode(c.Map()); err != nil {
		return fmt.Errorf("failed to encode toml: %w", err)
	}
	return nil
}
