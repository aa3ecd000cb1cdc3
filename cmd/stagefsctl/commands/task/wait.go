package task

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
)

var (
	waitInterval time.Duration
	waitTimeout  time.Duration
)

var waitCmd = &cobra.Command{
	Use:   "wait <task-id>",
	Short: "Wait for a task to finish",
	Long: `Block until a background task reaches a terminal state.

Exits non-zero if the task failed or the timeout elapsed.

Examples:
  # Wait with the default poll interval
  stagefsctl task wait 9d2e4a10-...

  # Poll every 5 seconds, give up after 10 minutes
  stagefsctl task wait 9d2e4a10-... --interval 5s --timeout 10m`,
	Args: cobra.ExactArgs(1),
	RunE: runWait,
}

func init() {
	waitCmd.Flags().DurationVar(&waitInterval, "interval", 2*time.Second, "Poll interval")
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "Give up after this long (default: no timeout)")
}

func runWait(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if waitTimeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, waitTimeout)
		defer cancel()
	}

	if cmdutil.IsVerbose() {
		fmt.Fprintf(os.Stderr, "Polling task %s every %s\n", taskID, waitInterval)
	}

	task, err := client.WaitTask(ctx, taskID, waitInterval)
	if err != nil {
		return fmt.Errorf("failed waiting for task %s: %w", taskID, err)
	}

	if !task.Succeeded() {
		return fmt.Errorf("task %s failed: %s", task.ID, task.Message)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Task %s succeeded", task.ID))
	return nil
}
