package key

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var listProject string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	Long: `List API keys on the stagefs server.

Key secrets are never shown; only metadata. Use --project to narrow the
listing to one project's keys.

Examples:
  # List all keys
  stagefsctl key list

  # List keys scoped to a project
  stagefsctl key list --project renders

  # List as JSON
  stagefsctl key list -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listProject, "project", "", "Only show keys scoped to this project")
}

// KeyTable is a list of API keys for table rendering.
type KeyTable []apiclient.APIKey

// Headers implements TableRenderer.
func (kt KeyTable) Headers() []string {
	return []string{"ID", "LABEL", "PROJECT", "ROLE", "ENABLED", "LAST USED"}
}

// Rows implements TableRenderer.
func (kt KeyTable) Rows() [][]string {
	rows := make([][]string, 0, len(kt))
	for _, k := range kt {
		lastUsed := "-"
		if k.LastUsedAt != nil {
			lastUsed = cmdutil.FormatTime(*k.LastUsedAt)
		}
		rows = append(rows, []string{
			k.ID,
			k.Label,
			cmdutil.EmptyOr(k.ProjectID, "-"),
			k.Role,
			cmdutil.BoolToYesNo(k.Enabled),
			lastUsed,
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	list, err := client.ListKeys(listProject)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, list, list.Count == 0, "No API keys found.", KeyTable(list.Keys))
}
