package task

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var (
	listProject string
	listLimit   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List background tasks",
	Long: `List background tasks, newest first.

Project-scoped keys list their own project's tasks; admin credentials
must name a project with --project.

Examples:
  # List recent tasks in a project
  stagefsctl task list --project renders

  # List the last 10 tasks
  stagefsctl task list --project renders --limit 10

  # List as JSON
  stagefsctl task list --project renders -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listProject, "project", "", "Project to list tasks for")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of tasks (default: server default)")
}

// TaskTable is a list of tasks for table rendering.
type TaskTable []apiclient.Task

// Headers implements TableRenderer.
func (tt TaskTable) Headers() []string {
	return []string{"ID", "KIND", "STATE", "PATH", "CREATED", "FINISHED"}
}

// Rows implements TableRenderer.
func (tt TaskTable) Rows() [][]string {
	rows := make([][]string, 0, len(tt))
	for _, t := range tt {
		finished := "-"
		if t.FinishedAt != nil {
			finished = cmdutil.FormatTime(*t.FinishedAt)
		}
		rows = append(rows, []string{
			t.ID,
			t.Kind,
			t.State,
			cmdutil.EmptyOr(t.Path, "-"),
			cmdutil.FormatTime(t.CreatedAt),
			finished,
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	list, err := client.ListTasks(listProject, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, list, list.Count == 0, "No tasks found.", TaskTable(list.Tasks))
}
