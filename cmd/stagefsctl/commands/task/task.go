// Package task implements background task commands for stagefsctl.
package task

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for background task inspection.
var Cmd = &cobra.Command{
	Use:   "task",
	Short: "Background task inspection",
	Long: `Inspect background tasks on the stagefs server.

Finalization, archive extraction, metadata generation, and delete events
run as background tasks. Task records stick around after completion so
clients can poll for the outcome.

Examples:
  # List recent tasks in a project
  stagefsctl task list --project renders

  # Show one task
  stagefsctl task show 9d2e4a10-...

  # Block until a task finishes
  stagefsctl task wait 9d2e4a10-...`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(waitCmd)
}
