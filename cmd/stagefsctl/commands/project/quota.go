package project

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/bytesize"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Manage project quotas",
	Long: `Manage project quota limits.

Examples:
  # Set a project's quota to 100 GiB
  stagefsctl project quota set renders 100GiB`,
}

var quotaSetCmd = &cobra.Command{
	Use:   "set <project-id> <quota>",
	Short: "Set a project's quota limit",
	Long: `Set a project's quota limit.

The quota accepts human-readable sizes (500MiB, 50GiB, 1TiB). Lowering the
quota below current usage is allowed; existing files stay, but new
reservations fail until usage drains below the new limit.

Examples:
  # Set quota to 100 GiB
  stagefsctl project quota set renders 100GiB

  # Set quota in raw bytes
  stagefsctl project quota set renders 107374182400`,
	Args: cobra.ExactArgs(2),
	RunE: runQuotaSet,
}

func init() {
	quotaCmd.AddCommand(quotaSetCmd)
}

func runQuotaSet(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	size, err := bytesize.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid quota %q: %w", args[1], err)
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	project, err := client.SetProjectQuota(projectID, int64(size))
	if err != nil {
		return fmt.Errorf("failed to set quota: %w", err)
	}

	return cmdutil.PrintResourceWithSuccess(os.Stdout, project,
		fmt.Sprintf("Project '%s' quota set to %s", project.ID, cmdutil.FormatBytes(project.QuotaBytes)))
}
