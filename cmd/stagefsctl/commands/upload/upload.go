// Package upload implements upload session commands for stagefsctl.
package upload

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for upload session management.
var Cmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload session management",
	Long: `Inspect and abort resumable upload sessions.

A session holds its quota reservation until it completes, is aborted, or
expires. Aborting an abandoned session releases the reservation
immediately instead of waiting for the retention sweeper.

Examples:
  # List open sessions in a project
  stagefsctl upload list renders

  # Abort a session
  stagefsctl upload abort renders 1f6c3e88-...`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(abortCmd)
}
