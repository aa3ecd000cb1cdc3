package file

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var statCmd = &cobra.Command{
	Use:   "stat <project-id> <path>",
	Short: "Show a file's catalog record",
	Long: `Show the catalog record of a durable file.

Examples:
  # Show a file's record as table
  stagefsctl file stat renders scenes/intro.mov

  # Show as JSON
  stagefsctl file stat renders scenes/intro.mov -o json`,
	Args: cobra.ExactArgs(2),
	RunE: runStat,
}

// SingleFile wraps a single file record for table rendering.
type SingleFile []apiclient.FileRecord

// Headers implements TableRenderer.
func (sf SingleFile) Headers() []string {
	return []string{"FIELD", "VALUE"}
}

// Rows implements TableRenderer.
func (sf SingleFile) Rows() [][]string {
	if len(sf) == 0 {
		return nil
	}
	f := sf[0]
	return [][]string{
		{"ID", f.ID},
		{"Project", f.ProjectID},
		{"Path", f.Path},
		{"Size", cmdutil.FormatBytes(f.Size)},
		{"Checksum", f.Checksum},
		{"Source", cmdutil.EmptyOr(f.Source, "-")},
		{"Stored", cmdutil.FormatTime(f.StoredAt)},
		{"Created", cmdutil.FormatTime(f.CreatedAt)},
	}
}

func runStat(cmd *cobra.Command, args []string) error {
	project, path := args[0], args[1]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	record, err := client.StatFile(project, path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	return cmdutil.PrintResource(os.Stdout, record, SingleFile{*record})
}
