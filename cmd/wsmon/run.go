package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/wsmon/internal/config"
	"github.com/steveyegge/wsmon/internal/dashboard"
	"github.com/steveyegge/wsmon/internal/logging"
	"github.com/steveyegge/wsmon/internal/monitor"
	"github.com/steveyegge/wsmon/internal/vcs"
)

var runCmd = &cobra.Command{
	Use:     "run [dir]",
	GroupID: "monitor",
	Short:   "Watch a workspace and report concurrent edits",
	Long: `Watch a directory tree and report concurrent edits.

Every write to a monitored file is attributed to --editor (or the editor
configured in watcher.editor). When two or more editors touch the same file
inside the conflict window a conflict:detected event is raised, and the
collaboration analyzer suggests who should coordinate.

Events are relayed to the MCP endpoint when --mcp is set, and streamed to
WebSocket clients when --dashboard is set.

Example usage:
  wsmon run                                 # Watch the current directory
  wsmon run ./src --editor alice            # Attribute edits to alice
  wsmon run --dashboard --dashboard-port 9000
  wsmon run --mcp --mcp-endpoint ws://localhost:3000/ws`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 1 {
			cfg.Root = args[0]
		}

		logger := newLogger(cfg)
		defer logger.Close()

		applyRepo(cmd, cfg, logger)
		if abs, err := filepath.Abs(cfg.Root); err == nil {
			cfg.Root = abs
		}

		var opts []monitor.Option
		opts = append(opts, monitor.WithLogger(logger))

		// The dashboard reads status from the monitor, which does not exist
		// yet; m is assigned before the dashboard starts.
		var m *monitor.Monitor
		var server *dashboard.Server
		if cfg.Dashboard.Enabled {
			server = dashboard.NewServer(dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Status: func() any { return m.Status() },
				Logger: logger.With("dashboard"),
			})
			opts = append(opts, monitor.WithService(server))
		}

		m, err = monitor.New(cfg, opts...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := m.Start(ctx); err != nil {
			shutdown(m)
			fmt.Fprintf(os.Stderr, "Error: failed to start monitor: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Watching %s\n", cfg.Root)
		if server != nil {
			fmt.Printf("Dashboard: http://%s\n", server.Addr())
			fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.Addr())
		}
		if cfg.MCP.Enabled {
			fmt.Printf("MCP endpoint: %s\n", cfg.MCP.Endpoint)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if err := shutdown(m); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// applyRepo fills workspace defaults from the enclosing repository: the
// repository root when no root was given, its metadata directories as
// ignored paths, and its configured user as the editor unless one was set
// explicitly.
func applyRepo(cmd *cobra.Command, cfg *config.Config, logger logging.Logger) {
	start := cfg.Root
	if start == "" {
		start = "."
	}

	repo, err := vcs.Detect(start)
	if err != nil {
		if cfg.Root == "" {
			cfg.Root = "."
		}
		return
	}
	if cfg.Root == "" {
		cfg.Root = repo.Root
	}

	for _, dir := range repo.MetaDirs {
		if !slices.Contains(cfg.Watcher.IgnorePaths, dir) {
			cfg.Watcher.IgnorePaths = append(cfg.Watcher.IgnorePaths, dir)
		}
	}

	if cmd.Flags().Changed("editor") || os.Getenv(config.EnvPrefix+"_WATCHER_EDITOR") != "" ||
		cfg.Watcher.Editor != config.Default().Watcher.Editor {
		return
	}
	id, err := repo.Identity(cmd.Context(), nil)
	if err != nil {
		logger.Debug("no repository identity, using default editor", "error", err)
		return
	}
	cfg.Watcher.Editor = id
	logger.Info("attributing edits to repository user", "vcs", repo.Type, "editor", id)
}

func shutdown(m *monitor.Monitor) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.Shutdown(ctx)
}

func init() {
	runCmd.Flags().Bool("dashboard", false, "Serve the WebSocket dashboard")
	runCmd.Flags().Int("dashboard-port", 8080, "Dashboard port")
	runCmd.Flags().Bool("mcp", false, "Relay events to the MCP endpoint")
	runCmd.Flags().String("mcp-endpoint", "", "MCP WebSocket endpoint (ws:// or wss://)")
	runCmd.Flags().Duration("debounce", 0, "Quiet period before a file change is reported")
	runCmd.Flags().String("editor", "", "Editor name attributed to local file changes")
	rootCmd.AddCommand(runCmd)
}
