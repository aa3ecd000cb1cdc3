package context

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/internal/cli/credentials"
)

var renameCmd = &cobra.Command{
	Use:   "rename <old-name> <new-name>",
	Short: "Rename a context",
	Long: `Rename a stored context. If the context is active it stays active
under the new name.

Examples:
  # Rename context from "localhost-8080" to "production"
  stagefsctl context rename localhost-8080 production`,
	Args: cobra.ExactArgs(2),
	RunE: runContextRename,
}

func runContextRename(cmd *cobra.Command, args []string) error {
	oldName, newName := args[0], args[1]
	if newName == oldName {
		return errors.New("old and new name are the same")
	}

	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	// Renaming over an existing context would silently drop its
	// credentials.
	if _, err := store.GetContext(newName); err == nil {
		return fmt.Errorf("context '%s' already exists", newName)
	}

	if err := store.RenameContext(oldName, newName); err != nil {
		if errors.Is(err, credentials.ErrContextNotFound) {
			return fmt.Errorf("context '%s' not found", oldName)
		}
		return fmt.Errorf("failed to rename context: %w", err)
	}

	fmt.Printf("Context renamed: %s -> %s\n", oldName, newName)
	return nil
}
