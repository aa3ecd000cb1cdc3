package file

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var lsCmd = &cobra.Command{
	Use:   "ls <project-id> [prefix]",
	Short: "List files in a project",
	Long: `List durable files in a project, optionally narrowed to a path prefix.

Examples:
  # List all files in a project
  stagefsctl file ls renders

  # List files under a prefix
  stagefsctl file ls renders scenes/

  # List as JSON
  stagefsctl file ls renders -o json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLs,
}

// FileTable is a list of file records for table rendering.
type FileTable []apiclient.FileRecord

// Headers implements TableRenderer.
func (ft FileTable) Headers() []string {
	return []string{"PATH", "SIZE", "CHECKSUM", "STORED"}
}

// Rows implements TableRenderer.
func (ft FileTable) Rows() [][]string {
	rows := make([][]string, 0, len(ft))
	for _, f := range ft {
		checksum := f.Checksum
		if len(checksum) > 24 {
			checksum = checksum[:24] + "..."
		}
		rows = append(rows, []string{
			f.Path,
			cmdutil.FormatBytes(f.Size),
			checksum,
			cmdutil.FormatTime(f.StoredAt),
		})
	}
	return rows
}

func runLs(cmd *cobra.Command, args []string) error {
	project := args[0]
	prefix := ""
	if len(args) > 1 {
		prefix = args[1]
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	list, err := client.ListFiles(project, prefix)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, list, list.Count == 0, "No files found.", FileTable(list.Files))
}
