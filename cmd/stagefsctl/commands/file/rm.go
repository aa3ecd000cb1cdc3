package file

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/cli/prompt"
)

var rmForce bool

var rmCmd = &cobra.Command{
	Use:   "rm <project-id> <path>",
	Short: "Remove a file or prefix",
	Long: `Remove a durable file, or every file under a prefix.

A path ending in "/" removes the whole prefix. Removed bytes are released
back to the project's quota.

Examples:
  # Remove a single file
  stagefsctl file rm renders scenes/intro.mov

  # Remove everything under a prefix
  stagefsctl file rm renders scenes/

  # Remove without confirmation
  stagefsctl file rm renders scenes/ --force`,
	Args: cobra.ExactArgs(2),
	RunE: runRm,
}

func init() {
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "Skip confirmation")
}

func runRm(cmd *cobra.Command, args []string) error {
	project, path := args[0], args[1]

	// A prefix removal can take out an arbitrary number of files, so it
	// asks for the prefix to be typed back instead of a plain y/N.
	var confirmed bool
	var err error
	if !rmForce && strings.HasSuffix(path, "/") {
		confirmed, err = prompt.ConfirmDanger(
			fmt.Sprintf("Remove every file under '%s' in project '%s'", path, project), path)
	} else {
		confirmed, err = prompt.ConfirmWithForce(
			fmt.Sprintf("Remove '%s' from project '%s'?", path, project), rmForce)
	}
	if err != nil {
		return cmdutil.HandleAbort(err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	result, err := client.RemoveFiles(project, path)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Removed %d file(s), released %s", result.Files, cmdutil.FormatBytes(result.Bytes)))
	return nil
}
