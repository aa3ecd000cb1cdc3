package project

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	Long: `List all projects on the stagefs server.

Examples:
  # List projects as table
  stagefsctl project list

  # List as JSON
  stagefsctl project list -o json`,
	RunE: runList,
}

// ProjectTable is a list of projects for table rendering.
type ProjectTable []apiclient.Project

// Headers implements TableRenderer.
func (pt ProjectTable) Headers() []string {
	return []string{"ID", "QUOTA", "COMMITTED", "RESERVED", "FREE"}
}

// Rows implements TableRenderer.
func (pt ProjectTable) Rows() [][]string {
	rows := make([][]string, 0, len(pt))
	for _, p := range pt {
		rows = append(rows, []string{
			p.ID,
			cmdutil.FormatBytes(p.QuotaBytes),
			cmdutil.FormatBytes(p.CommittedBytes),
			cmdutil.FormatBytes(p.ReservedBytes),
			cmdutil.FormatBytes(p.FreeBytes),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	list, err := client.ListProjects()
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, list, list.Count == 0, "No projects found.", ProjectTable(list.Projects))
}
