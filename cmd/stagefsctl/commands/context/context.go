// Package context implements context management commands for stagefsctl.
package context

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for context management.
var Cmd = &cobra.Command{
	Use:   "context",
	Short: "Manage server contexts",
	Long: `Manage saved server contexts.

A context holds the server URL and credentials for one stagefs server.
Login creates a context; switch between servers with "context use".

Examples:
  # List all contexts
  stagefsctl context list

  # Show the active context
  stagefsctl context current

  # Switch to another context
  stagefsctl context use production

  # Rename a context
  stagefsctl context rename default local

  # Delete a context
  stagefsctl context delete staging`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(currentCmd)
	Cmd.AddCommand(useCmd)
	Cmd.AddCommand(renameCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(setOutputCmd)
}
