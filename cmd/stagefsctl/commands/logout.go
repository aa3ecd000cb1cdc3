package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/internal/cli/credentials"
)

var logoutAll bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Long: `Remove the stored credentials for the current context.

Use --all to remove all stored contexts.`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "Remove all stored contexts")
}

func runLogout(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	if logoutAll {
		names := store.ListContexts()
		if len(names) == 0 {
			fmt.Println("No stored credentials.")
			return nil
		}
		for _, name := range names {
			if err := store.DeleteContext(name); err != nil {
				return fmt.Errorf("failed to remove context %q: %w", name, err)
			}
		}
		fmt.Printf("Removed %d context(s).\n", len(names))
		return nil
	}

	name := store.GetCurrentContextName()
	if err := store.ClearCurrentContext(); err != nil {
		if errors.Is(err, credentials.ErrNoCurrentContext) {
			fmt.Println("Not logged in.")
			return nil
		}
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	fmt.Printf("Logged out from context %q.\n", name)
	return nil
}
