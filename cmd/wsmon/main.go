// Command wsmon watches a workspace for concurrent edits and streams
// conflicts, collaboration insights and status to a local dashboard and an
// optional MCP endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/steveyegge/wsmon/internal/config"
	"github.com/steveyegge/wsmon/internal/logging"
)

var (
	configPath string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "wsmon",
	Short: "Workspace monitor for concurrent editing",
	Long: `wsmon watches a directory tree, tracks who is editing which file, and
reports simultaneous edits before they turn into merge conflicts.

Configuration is read from a YAML or TOML file (--config), then WSMON_*
environment variables, then command line flags.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this rotating file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "monitor", Title: "Monitoring:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
}

// loadConfig reads configuration for cmd, applying its explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configPath, cmd.Flags())
}

// newLogger builds the root logger from the log section of cfg.
func newLogger(cfg *config.Config) *logging.StdLogger {
	return logging.New(logging.Options{
		Level: cfg.Log.Level,
		File: logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
