// Package file implements file commands for stagefsctl.
package file

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for file operations.
var Cmd = &cobra.Command{
	Use:   "file",
	Short: "File operations",
	Long: `Work with durable files on the stagefs server.

Files live under project-scoped paths. Push uploads through a resumable
session and survives connection drops; small files finalize inline while
larger ones hand off to a background task.

Examples:
  # List files in a project
  stagefsctl file ls renders

  # Upload a local file
  stagefsctl file push renders scenes/intro.mov ./intro.mov

  # Download a file
  stagefsctl file get renders scenes/intro.mov ./intro.mov

  # Show a file's catalog record
  stagefsctl file stat renders scenes/intro.mov

  # Remove a file or prefix
  stagefsctl file rm renders scenes/`,
}

func init() {
	Cmd.AddCommand(lsCmd)
	Cmd.AddCommand(statCmd)
	Cmd.AddCommand(pushCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(rmCmd)
}
