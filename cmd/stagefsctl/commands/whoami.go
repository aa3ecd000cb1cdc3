package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/cli/output"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated principal",
	Long:  `Show details about the principal the current credentials authenticate as.`,
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func runWhoami(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	principal, err := client.Whoami()
	if err != nil {
		return fmt.Errorf("failed to query server: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), principal)
	case output.FormatYAML:
		return output.PrintYAML(cmd.OutOrStdout(), principal)
	}

	fmt.Printf("Name:     %s\n", principal.Name)
	fmt.Printf("Kind:     %s\n", principal.Kind)
	fmt.Printf("Role:     %s\n", principal.Role)
	fmt.Printf("Project:  %s\n", cmdutil.EmptyOr(principal.Project, "-"))
	fmt.Printf("Write:    %s\n", cmdutil.BoolToYesNo(principal.CanWrite))
	return nil
}
