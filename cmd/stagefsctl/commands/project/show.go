package project

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var showCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show project details",
	Long: `Show detailed information about a project, including quota usage.

Examples:
  # Show project details as table
  stagefsctl project show renders

  # Show as JSON
  stagefsctl project show renders -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

// SingleProject wraps a single project for table rendering.
type SingleProject []apiclient.Project

// Headers implements TableRenderer.
func (sp SingleProject) Headers() []string {
	return []string{"FIELD", "VALUE"}
}

// Rows implements TableRenderer.
func (sp SingleProject) Rows() [][]string {
	if len(sp) == 0 {
		return nil
	}
	p := sp[0]
	return [][]string{
		{"ID", p.ID},
		{"Quota", cmdutil.FormatBytes(p.QuotaBytes)},
		{"Committed", cmdutil.FormatBytes(p.CommittedBytes)},
		{"Reserved", cmdutil.FormatBytes(p.ReservedBytes)},
		{"Free", cmdutil.FormatBytes(p.FreeBytes)},
		{"Created", cmdutil.FormatTime(p.CreatedAt)},
		{"Updated", cmdutil.FormatTime(p.UpdatedAt)},
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	project, err := client.GetProject(projectID)
	if err != nil {
		return fmt.Errorf("failed to get project: %w", err)
	}

	return cmdutil.PrintResource(os.Stdout, project, SingleProject{*project})
}
