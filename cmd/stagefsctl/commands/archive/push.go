package archive

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var (
	pushChecksum  string
	pushResumable bool
	pushWait      bool
)

var pushCmd = &cobra.Command{
	Use:   "push <project-id> <target-dir> <local-archive>",
	Short: "Upload an archive for extraction",
	Long: `Upload a local archive and extract it under a target directory.

Supported containers are zip, tar, and tar.gz; the server detects the
format from the content. Extraction runs in the background and each
extracted member becomes a durable file under the target directory.

By default the archive is sent in a single request. Use --resumable for
large archives to send it through a resumable session instead.

Examples:
  # Upload and extract under scenes/
  stagefsctl archive push renders scenes/ ./batch.tar.gz

  # Upload a large archive resumably and wait for extraction
  stagefsctl archive push renders scenes/ ./batch.tar.gz --resumable --wait`,
	Args: cobra.ExactArgs(3),
	RunE: runPush,
}

func init() {
	pushCmd.Flags().StringVar(&pushChecksum, "checksum", "", "Expected digest of the archive, 'algorithm:hex' or bare sha256 hex")
	pushCmd.Flags().BoolVar(&pushResumable, "resumable", false, "Send through a resumable session")
	pushCmd.Flags().BoolVar(&pushWait, "wait", false, "Wait for extraction to finish")
}

func runPush(cmd *cobra.Command, args []string) error {
	project, targetDir, localPath := args[0], args[1], args[2]

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected an archive file", localPath)
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	var accepted *apiclient.AcceptedTask
	if pushResumable {
		result, err := client.PushFile(cmd.Context(), project, targetDir, f, info.Size(), apiclient.PushOptions{
			Checksum: pushChecksum,
			Kind:     "archive",
		})
		if err != nil {
			return fmt.Errorf("archive push failed: %w", err)
		}
		if result.Task == nil {
			return fmt.Errorf("server did not hand off extraction to a task")
		}
		accepted = result.Task
	} else {
		accepted, err = client.UploadArchive(cmd.Context(), project, targetDir, f, info.Size(), pushChecksum)
		if err != nil {
			return fmt.Errorf("archive upload failed: %w", err)
		}
	}

	if !pushWait {
		return cmdutil.PrintResourceWithSuccess(os.Stdout, accepted,
			fmt.Sprintf("Archive accepted, extracting in background (task: %s)\nCheck progress with: stagefsctl task show %s", accepted.TaskID, accepted.TaskID))
	}

	task, err := client.WaitTask(cmd.Context(), accepted.TaskID, 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed waiting for task %s: %w", accepted.TaskID, err)
	}
	if !task.Succeeded() {
		return fmt.Errorf("extraction failed: %s", task.Message)
	}
	return cmdutil.PrintResourceWithSuccess(os.Stdout, task,
		fmt.Sprintf("Archive extracted under '%s'", targetDir))
}
