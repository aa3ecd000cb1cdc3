package context

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/cli/credentials"
	"github.com/stagefs/stagefs/internal/cli/output"
)

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the active context",
	Long: `Show the context that commands currently run against.

Examples:
  # Show current context
  stagefsctl context current

  # Show as JSON
  stagefsctl context current -o json`,
	Args: cobra.NoArgs,
	RunE: runContextCurrent,
}

func runContextCurrent(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	name := store.GetCurrentContextName()
	if name == "" {
		return fmt.Errorf("no current context set\n\n" +
			"Login to a server first:\n" +
			"  stagefsctl login http://localhost:8080")
	}

	ctx, err := store.GetContext(name)
	if err != nil {
		return fmt.Errorf("failed to get context: %w", err)
	}

	info := ContextInfo{
		Name:      name,
		Current:   true,
		ServerURL: ctx.ServerURL,
		Username:  ctx.Username,
		Session:   sessionState(ctx),
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, info)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, info)
	}

	fmt.Printf("Current context: %s\n", name)
	fmt.Printf("  Server:   %s\n", ctx.ServerURL)
	fmt.Printf("  User:     %s\n", cmdutil.EmptyOr(ctx.Username, "-"))
	fmt.Printf("  Session:  %s\n", info.Session)
	if info.Session == "active" {
		fmt.Printf("  Expires:  %s\n", cmdutil.FormatTime(ctx.ExpiresAt))
	}
	fmt.Printf("  Config:   %s\n", store.ConfigPath())
	return nil
}
