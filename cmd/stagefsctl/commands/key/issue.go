package key

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/cli/output"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var (
	issueLabel   string
	issueProject string
	issueRole    string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new API key",
	Long: `Issue a new API key.

The token is shown exactly once. Only its hash is stored server-side, so a
lost token means revoking the key and issuing a new one.

Roles:
  reader  - read files in one project (default)
  writer  - read and write files in one project
  admin   - manage projects, keys, and all files

Reader and writer keys require --project; admin keys must not have one.

Examples:
  # Issue a writer key for a project
  stagefsctl key issue --label ci-uploader --project renders --role writer

  # Issue a read-only key
  stagefsctl key issue --label dashboard --project renders

  # Issue an admin key
  stagefsctl key issue --label ops --role admin`,
	RunE: runIssue,
}

func init() {
	issueCmd.Flags().StringVar(&issueLabel, "label", "", "Key label (required)")
	issueCmd.Flags().StringVar(&issueProject, "project", "", "Project the key is scoped to")
	issueCmd.Flags().StringVar(&issueRole, "role", "", "Key role: reader, writer, or admin (default: reader)")
	_ = issueCmd.MarkFlagRequired("label")
}

func runIssue(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	req := &apiclient.IssueKeyRequest{
		Label:     issueLabel,
		ProjectID: issueProject,
		Role:      issueRole,
	}

	issued, err := client.IssueKey(req)
	if err != nil {
		return fmt.Errorf("failed to issue key: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, issued)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, issued)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("API key '%s' issued (ID: %s)", issued.Key.Label, issued.Key.ID))
	fmt.Println()
	fmt.Printf("  Token: %s\n", issued.Token)
	fmt.Println()
	cmdutil.PrintWarning("Save this token now. It will not be shown again.")
	return nil
}
