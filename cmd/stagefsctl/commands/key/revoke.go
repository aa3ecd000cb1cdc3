package key

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
)

var (
	revokeForce bool
	revokePurge bool
)

var revokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Long: `Revoke an API key.

Revocation disables the key immediately but keeps its record and last-used
timestamp for audit. Use --purge to remove the record entirely.

Examples:
  # Revoke a key
  stagefsctl key revoke 7ce1f0b2-...

  # Revoke and remove the record
  stagefsctl key revoke 7ce1f0b2-... --purge`,
	Args: cobra.ExactArgs(1),
	RunE: runRevoke,
}

func init() {
	revokeCmd.Flags().BoolVarP(&revokeForce, "force", "f", false, "Skip confirmation")
	revokeCmd.Flags().BoolVar(&revokePurge, "purge", false, "Remove the key record entirely")
}

func runRevoke(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	if revokePurge {
		return cmdutil.RunDeleteWithConfirmation("API key", keyID, revokeForce, func() error {
			return client.PurgeKey(keyID)
		})
	}

	if err := client.RevokeKey(keyID); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("API key '%s' revoked", keyID))
	return nil
}
