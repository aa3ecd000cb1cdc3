package upload

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var listCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List upload sessions",
	Long: `List resumable upload sessions in a project.

Examples:
  # List sessions as table
  stagefsctl upload list renders

  # List as JSON
  stagefsctl upload list renders -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

// UploadTable is a list of upload sessions for table rendering.
type UploadTable []apiclient.UploadSession

// Headers implements TableRenderer.
func (ut UploadTable) Headers() []string {
	return []string{"ID", "PATH", "KIND", "STATE", "OFFSET", "SIZE", "UPDATED"}
}

// Rows implements TableRenderer.
func (ut UploadTable) Rows() [][]string {
	rows := make([][]string, 0, len(ut))
	for _, s := range ut {
		size := "unknown"
		if s.SizeKnown() {
			size = cmdutil.FormatBytes(s.Size)
		}
		rows = append(rows, []string{
			s.ID,
			s.Path,
			s.Kind,
			s.State,
			cmdutil.FormatBytes(s.Offset),
			size,
			cmdutil.FormatTime(s.UpdatedAt),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	project := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	list, err := client.ListUploads(project)
	if err != nil {
		return fmt.Errorf("failed to list uploads: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, list, list.Count == 0, "No upload sessions found.", UploadTable(list.Uploads))
}
