package task

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var showCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show task details",
	Long: `Show detailed information about a background task.

Examples:
  # Show task details as table
  stagefsctl task show 9d2e4a10-...

  # Show as JSON
  stagefsctl task show 9d2e4a10-... -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

// SingleTask wraps a single task for table rendering.
type SingleTask []apiclient.Task

// Headers implements TableRenderer.
func (st SingleTask) Headers() []string {
	return []string{"FIELD", "VALUE"}
}

// Rows implements TableRenderer.
func (st SingleTask) Rows() [][]string {
	if len(st) == 0 {
		return nil
	}
	t := st[0]
	started, finished := "-", "-"
	if t.StartedAt != nil {
		started = cmdutil.FormatTime(*t.StartedAt)
	}
	if t.FinishedAt != nil {
		finished = cmdutil.FormatTime(*t.FinishedAt)
	}
	return [][]string{
		{"ID", t.ID},
		{"Kind", t.Kind},
		{"State", t.State},
		{"Message", cmdutil.EmptyOr(t.Message, "-")},
		{"Project", cmdutil.EmptyOr(t.ProjectID, "-")},
		{"Path", cmdutil.EmptyOr(t.Path, "-")},
		{"Created", cmdutil.FormatTime(t.CreatedAt)},
		{"Started", started},
		{"Finished", finished},
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	task, err := client.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}

	return cmdutil.PrintResource(os.Stdout, task, SingleTask{*task})
}
