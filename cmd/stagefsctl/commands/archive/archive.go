// Package archive implements archive commands for stagefsctl.
package archive

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for archive operations.
var Cmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive operations",
	Long: `Upload archives for server-side extraction.

An archive (zip, tar, or tar.gz) is uploaded once and extracted into
individual files under a target directory. Extraction always runs in the
background; the command prints a task to poll.

Examples:
  # Upload an archive and extract under a directory
  stagefsctl archive push renders scenes/ ./batch.tar.gz

  # Upload and wait for extraction
  stagefsctl archive push renders scenes/ ./batch.tar.gz --wait`,
}

func init() {
	Cmd.AddCommand(pushCmd)
}
