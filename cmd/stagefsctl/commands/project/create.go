package project

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/bytesize"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var (
	createID    string
	createQuota string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new project",
	Long: `Create a new project on the stagefs server.

The quota accepts human-readable sizes (500MiB, 50GiB, 1TiB). When omitted,
the server's default project quota applies.

Examples:
  # Create a project with the default quota
  stagefsctl project create --id renders

  # Create a project with a 50 GiB quota
  stagefsctl project create --id renders --quota 50GiB`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createID, "id", "", "Project ID (required)")
	createCmd.Flags().StringVar(&createQuota, "quota", "", "Quota limit (e.g. 50GiB, default: server default)")
	_ = createCmd.MarkFlagRequired("id")
}

func runCreate(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	req := &apiclient.CreateProjectRequest{
		ID: createID,
	}
	if createQuota != "" {
		size, err := bytesize.Parse(createQuota)
		if err != nil {
			return fmt.Errorf("invalid quota %q: %w", createQuota, err)
		}
		quota := int64(size)
		req.QuotaBytes = &quota
	}

	project, err := client.CreateProject(req)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return cmdutil.PrintResourceWithSuccess(os.Stdout, project,
		fmt.Sprintf("Project '%s' created successfully (quota: %s)", project.ID, cmdutil.FormatBytes(project.QuotaBytes)))
}
