package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/verdant-labs/verdant/cmd/verdant/commands"
	"github.com/verdant-labs/verdant/logger"
)

var rootCmd = &cobra.Command{
	Use:   "verdant",
	Short: "Verdant - garden observation orchestration",
	Long: `Verdant - garden observation collection, enrichment, and sync.

Verdant polls garden data sources on independent schedules, enriches
collected batches through a priority-ordered job queue, and reconciles
manual entries recorded on multiple devices.

Available commands:
  serve   - Run the collection daemon and status server
  status  - Show a running daemon's collection status
  version - Show version information

Examples:
  verdant serve                 # Start the daemon in foreground
  verdant serve --db-path g.db  # Start with a custom database
  verdant status                # Query the local daemon
  verdant status --json         # Raw status JSON`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(jsonOutput, verbosity > 0); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to verdant.toml (default: search upward from cwd)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
