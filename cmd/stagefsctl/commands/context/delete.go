package context

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/cli/credentials"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored context",
	Long: `Delete a stored context and its credentials.

Deleting the active context leaves no context selected; switch with
"stagefsctl context use" or log in again afterwards.

Examples:
  # Delete context named "staging"
  stagefsctl context delete staging

  # Delete without confirmation
  stagefsctl context delete staging --force`,
	Args: cobra.ExactArgs(1),
	RunE: runContextDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation")
}

func runContextDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	if _, err := store.GetContext(name); err != nil {
		if errors.Is(err, credentials.ErrContextNotFound) {
			return fmt.Errorf("context '%s' not found", name)
		}
		return fmt.Errorf("failed to get context: %w", err)
	}

	wasCurrent := store.GetCurrentContextName() == name

	if err := cmdutil.RunDeleteWithConfirmation("Context", name, deleteForce, func() error {
		return store.DeleteContext(name)
	}); err != nil {
		return err
	}

	// A nil return also covers an aborted confirmation, so check the
	// store before claiming the active context is gone.
	if wasCurrent && store.GetCurrentContextName() == "" {
		fmt.Println("The active context was deleted. Pick another with 'stagefsctl context use'.")
	}
	return nil
}
