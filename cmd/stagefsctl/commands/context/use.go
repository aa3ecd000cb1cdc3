package context

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/internal/cli/credentials"
	"github.com/stagefs/stagefs/internal/cli/prompt"
)

var useCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Switch to a different context",
	Long: `Switch to a different server context.

This changes the active context used for subsequent commands. With no
argument, the context is picked interactively.

Examples:
  # Switch to context named "production"
  stagefsctl context use production

  # Pick from a list
  stagefsctl context use`,
	Args: cobra.MaximumNArgs(1),
	RunE: runContextUse,
}

func runContextUse(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	var contextName string
	if len(args) == 1 {
		contextName = args[0]
	} else {
		contextName, err = pickContext(store)
		if err != nil {
			if prompt.IsAborted(err) {
				fmt.Println("\nAborted.")
				return nil
			}
			return err
		}
	}

	if err := store.UseContext(contextName); err != nil {
		if errors.Is(err, credentials.ErrContextNotFound) {
			return fmt.Errorf("context '%s' not found\n\n"+
				"List available contexts:\n"+
				"  stagefsctl context list", contextName)
		}
		return fmt.Errorf("failed to switch context: %w", err)
	}

	fmt.Printf("Switched to context: %s\n", contextName)
	return nil
}

// pickContext prompts for a context, showing each context's server URL.
func pickContext(store *credentials.Store) (string, error) {
	names := store.ListContexts()
	if len(names) == 0 {
		return "", errors.New("no stored contexts. Run 'stagefsctl login' first")
	}

	current := store.GetCurrentContextName()
	options := make([]prompt.SelectOption, 0, len(names))
	for _, name := range names {
		opt := prompt.SelectOption{Label: name, Value: name}
		if name == current {
			opt.Label = name + " (current)"
		}
		if ctx, err := store.GetContext(name); err == nil {
			opt.Description = ctx.ServerURL
		}
		options = append(options, opt)
	}
	return prompt.Select("Context", options)
}
