package project

import (
	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project",
	Long: `Delete a project from the stagefs server.

The server refuses to delete a project that still has files or uploads in
flight. Remove the files first, or wait for uploads to finish.

Examples:
  # Delete a project
  stagefsctl project delete renders

  # Delete without confirmation
  stagefsctl project delete renders --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	return cmdutil.RunDeleteWithConfirmation("Project", projectID, deleteForce, func() error {
		return client.DeleteProject(projectID)
	})
}
