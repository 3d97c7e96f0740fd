package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/mcp"
	"github.com/steveyegge/wsmon/internal/monitor"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "monitor",
	Short:   "Show the status of a running monitor",
	Long: `Query a running monitor through its dashboard and display its status.

The monitor must have been started with --dashboard.

Shows:
  - Uptime and watched root
  - Watcher, hub and MCP connector health
  - Active editing sessions and recent conflicts

Example usage:
  wsmon status
  wsmon status --addr 127.0.0.1:9000
  wsmon status --json`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := fetchStatus(cmd.Context(), addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(st); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
		fmt.Println(renderStatus(st))
	},
}

func init() {
	statusCmd.Flags().String("addr", "127.0.0.1:8080", "Dashboard address of the running monitor")
	statusCmd.Flags().Bool("json", false, "Print the raw status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func fetchStatus(ctx context.Context, addr string) (*monitor.Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monitor not reachable at %s (is it running with --dashboard?): %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s", resp.Status)
	}

	var st monitor.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &st, nil
}

func renderStatus(st *monitor.Status) string {
	running := failStyle.Render("stopped")
	if st.Watcher.Running {
		running = passStyle.Render("running")
	}

	overview := panel("Workspace Monitor",
		row("Root", st.Root),
		row("Uptime", orDash(st.Uptime)),
		row("Watcher", running),
		row("Watched dirs", fmt.Sprint(st.Watcher.WatchedDirs)),
		row("Changes", fmt.Sprintf("%d emitted, %d pending", st.Watcher.Emitted, st.Watcher.Pending)),
		row("Hub events", fmt.Sprintf("%d (%d errors)", st.Hub.TotalEvents, st.Hub.ErrorCount)),
		row("MCP", connectorState(st.Connector)),
	)

	conflicts := []string{
		row("Active sessions", fmt.Sprint(st.ActiveSessions)),
		row("Conflicts", conflictCount(st.ConflictCount)),
	}
	for _, c := range st.Conflicts.Recent {
		conflicts = append(conflicts, formatConflict(c))
	}

	return lipgloss.JoinVertical(lipgloss.Left, overview, panel("Conflicts", conflicts...))
}

func connectorState(s mcp.Status) string {
	switch {
	case !s.Enabled:
		return mutedStyle.Render("disabled")
	case s.Connected:
		return passStyle.Render(string(s.State)) + fmt.Sprintf("  sent %d, dropped %d", s.Sent, s.Dropped)
	case s.State == mcp.StateDormant:
		return failStyle.Render(string(s.State))
	default:
		return warnStyle.Render(string(s.State)) + fmt.Sprintf("  attempt %d", s.Attempts)
	}
}

func conflictCount(n int) string {
	if n == 0 {
		return passStyle.Render("0")
	}
	return warnStyle.Render(fmt.Sprint(n))
}

func formatConflict(c events.Conflict) string {
	style := warnStyle
	if c.Type == events.TooManyEditors {
		style = failStyle
	}
	return fmt.Sprintf("%s %s %s  %s",
		style.Render("⚠"),
		c.Timestamp.Format("15:04:05"),
		c.Path,
		strings.Join(c.Editors, ", "))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
