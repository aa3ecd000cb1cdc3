// Package key implements API key management commands for stagefsctl.
package key

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for API key management.
var Cmd = &cobra.Command{
	Use:   "key",
	Short: "API key management",
	Long: `Manage API keys on the stagefs server.

Keys authenticate automated clients. Reader and writer keys are scoped to
one project; admin keys manage the whole server. The key token is shown
exactly once at issuance. These operations require admin privileges.

Examples:
  # Issue a writer key for a project
  stagefsctl key issue --label ci-uploader --project renders --role writer

  # List all keys
  stagefsctl key list

  # List keys for one project
  stagefsctl key list --project renders

  # Revoke a key
  stagefsctl key revoke 7ce1f0b2-...`,
}

func init() {
	Cmd.AddCommand(issueCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(revokeCmd)
}
