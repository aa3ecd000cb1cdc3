package file

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
)

var getCmd = &cobra.Command{
	Use:   "get <project-id> <path> [local-file]",
	Short: "Download a file",
	Long: `Download a durable file from the stagefs server.

Without a local file argument the content is written to the remote path's
base name in the current directory. Use "-" to write to stdout.

Examples:
  # Download to the file's base name
  stagefsctl file get renders scenes/intro.mov

  # Download to a specific path
  stagefsctl file get renders scenes/intro.mov /tmp/intro.mov

  # Stream to stdout
  stagefsctl file get renders scenes/intro.mov -`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	project, path := args[0], args[1]

	target := filepath.Base(path)
	if len(args) > 2 {
		target = args[2]
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	body, err := client.Download(cmd.Context(), project, path)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", path, err)
	}
	defer func() { _ = body.Close() }()

	if target == "-" {
		_, err := io.Copy(os.Stdout, body)
		return err
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	written, err := io.Copy(out, body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Downloaded %s to %s (%s)", path, target, cmdutil.FormatBytes(written)))
	return nil
}
