package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/wsmon/internal/loadtest"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load test the conflict pipeline with simulated editors",
	Long: `Run the conflict detector and collaboration analyzer against many
simulated editors editing a shared set of files concurrently.

Reports emit latency percentiles and throughput, and verifies that the
pipeline's bounded state (hot files, team size) stays consistent. Exits
with status 1 if verification fails.

Examples:
  # Default run: 50 editors, 200 files, 100 edits each
  wsmon bench

  # Heavy contention on a few files
  wsmon bench --editors 200 --files 10

  # Output as JSON
  wsmon bench --json
`,
	Run:     runBench,
	GroupID: "maint",
}

func init() {
	d := loadtest.DefaultOptions()
	benchCmd.Flags().Int("editors", d.Editors, "Number of concurrent editors to simulate")
	benchCmd.Flags().Int("files", d.Files, "Number of shared files")
	benchCmd.Flags().Int("edits", d.EditsPerEditor, "Number of edits per editor")
	benchCmd.Flags().Int64("seed", d.Seed, "Random seed for file selection")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	opts := loadtest.DefaultOptions()
	opts.Editors, _ = cmd.Flags().GetInt("editors")
	opts.Files, _ = cmd.Flags().GetInt("files")
	opts.EditsPerEditor, _ = cmd.Flags().GetInt("edits")
	opts.Seed, _ = cmd.Flags().GetInt64("seed")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if opts.Editors <= 0 || opts.Files <= 0 || opts.EditsPerEditor <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --editors, --files and --edits must be positive\n")
		os.Exit(1)
	}

	if !jsonOutput {
		fmt.Printf("Configuration: %d editors, %d files, %d edits/editor\n\n",
			opts.Editors, opts.Files, opts.EditsPerEditor)
	}

	result, err := loadtest.Run(cmd.Context(), opts)
	if result == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		result.Print(os.Stdout)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "\nVerification failed: %v\n", err)
		os.Exit(1)
	}
}
