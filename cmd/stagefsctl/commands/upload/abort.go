package upload

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/cli/prompt"
)

var abortForce bool

var abortCmd = &cobra.Command{
	Use:   "abort <project-id> <upload-id>",
	Short: "Abort an upload session",
	Long: `Abort a resumable upload session.

The session's spooled bytes are discarded and its quota reservation is
released immediately.

Examples:
  # Abort a session
  stagefsctl upload abort renders 1f6c3e88-...

  # Abort without confirmation
  stagefsctl upload abort renders 1f6c3e88-... --force`,
	Args: cobra.ExactArgs(2),
	RunE: runAbort,
}

func init() {
	abortCmd.Flags().BoolVarP(&abortForce, "force", "f", false, "Skip confirmation")
}

func runAbort(cmd *cobra.Command, args []string) error {
	project, uploadID := args[0], args[1]

	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Abort upload session '%s'?", uploadID), abortForce)
	if err != nil {
		return cmdutil.HandleAbort(err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	if err := client.AbortUpload(project, uploadID); err != nil {
		return fmt.Errorf("failed to abort upload: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Upload session '%s' aborted", uploadID))
	return nil
}
