package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/internal/cli/output"
	"github.com/stagefs/stagefs/pkg/config"
)

var sweepOutput string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a one-shot retention sweep",
	Long: `Run a single retention sweep pass and exit.

The sweep purges durable files past their retention window, expires idle
upload sessions, reclaims orphaned reservations and workspaces, prunes
finished task records, and empties the trash. The same pass runs
periodically inside a running server; this command is for cron-driven
deployments and for forcing a pass after a retention change.

Files whose lock is held are skipped, never forced. Files referenced by an
accepted preservation dataset are never purged.

Examples:
  # Run one sweep pass
  stagefs sweep

  # Run with custom config
  stagefs sweep --config /etc/stagefs/config.yaml

  # Print the report as JSON
  stagefs sweep --output json`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVarP(&sweepOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(sweepOutput)
	if err != nil {
		return err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx := context.Background()

	staging, err := config.InitializeStaging(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize staging services: %w", err)
	}
	defer func() { _ = staging.Close() }()

	report, err := staging.Sweeper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, report)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, report)
	default:
		if report.Empty() {
			fmt.Println("Sweep complete. Nothing to do.")
			return nil
		}
		fmt.Println("Sweep complete.")
		fmt.Printf("  Files purged:           %d (%d bytes)\n", report.FilesPurged, report.BytesPurged)
		fmt.Printf("  Sessions expired:       %d\n", report.SessionsExpired)
		fmt.Printf("  Reservations reclaimed: %d\n", report.ReservationsReclaimed)
		fmt.Printf("  Workspaces removed:     %d\n", report.WorkspacesRemoved)
		fmt.Printf("  Tasks pruned:           %d\n", report.TasksPruned)
		fmt.Printf("  Trash purged:           %d\n", report.TrashPurged)
		fmt.Printf("  Leases swept:           %d\n", report.LeasesSwept)
	}

	return nil
}
