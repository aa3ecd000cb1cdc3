package context

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/internal/cli/credentials"
	"github.com/stagefs/stagefs/internal/cli/output"
)

var setOutputCmd = &cobra.Command{
	Use:   "set-output <table|json|yaml>",
	Short: "Set the default output format",
	Long: `Set the output format used when no -o flag is given.

The preference is stored in the client config file and applies to every
context.

Examples:
  # Default to JSON output
  stagefsctl context set-output json

  # Back to tables
  stagefsctl context set-output table`,
	Args: cobra.ExactArgs(1),
	RunE: runContextSetOutput,
}

func runContextSetOutput(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(args[0])
	if err != nil {
		return err
	}

	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	prefs := store.GetPreferences()
	prefs.DefaultOutput = string(format)
	if err := store.SetPreferences(prefs); err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}

	fmt.Printf("Default output format set to %s\n", format)
	return nil
}
