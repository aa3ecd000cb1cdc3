package file

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/bytesize"
	"github.com/stagefs/stagefs/internal/cli/output"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var (
	pushChecksum  string
	pushVerify    bool
	pushChunkSize string
	pushWait      bool
)

var pushCmd = &cobra.Command{
	Use:   "push <project-id> <remote-path> <local-file>",
	Short: "Upload a local file",
	Long: `Upload a local file through a resumable session.

The file is sent in fixed-size chunks; a dropped connection resumes from
the last byte the server confirmed. Small files finalize inline and the
command prints the new record. Larger files finalize in the background;
use --wait to block until the task finishes.

Examples:
  # Upload a file
  stagefsctl file push renders scenes/intro.mov ./intro.mov

  # Upload with integrity verification
  stagefsctl file push renders scenes/intro.mov ./intro.mov --verify

  # Upload and wait for background finalization
  stagefsctl file push renders scenes/intro.mov ./intro.mov --wait`,
	Args: cobra.ExactArgs(3),
	RunE: runPush,
}

func init() {
	pushCmd.Flags().StringVar(&pushChecksum, "checksum", "", "Expected digest, 'algorithm:hex' or bare sha256 hex")
	pushCmd.Flags().BoolVar(&pushVerify, "verify", false, "Compute the sha256 locally and have the server verify it")
	pushCmd.Flags().StringVar(&pushChunkSize, "chunk-size", "", "Chunk size per append (e.g. 8MiB)")
	pushCmd.Flags().BoolVar(&pushWait, "wait", false, "Wait for background finalization to finish")
}

func runPush(cmd *cobra.Command, args []string) error {
	project, remotePath, localPath := args[0], args[1], args[2]

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
		return fmt.Errorf("%s is a directory - use 'stagefsctl archive push' for directories", localPath)
	}
	size := info.Size()

	opts := apiclient.PushOptions{Checksum: pushChecksum}

	if pushVerify {
		if opts.Checksum != "" {
			return fmt.Errorf("--verify and --checksum are mutually exclusive")
		}
		sum, err := hashFile(f)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", localPath, err)
		}
		opts.Checksum = sum
	}

	if pushChunkSize != "" {
		chunk, err := bytesize.Parse(pushChunkSize)
		if err != nil {
			return fmt.Errorf("invalid chunk size %q: %w", pushChunkSize, err)
		}
		opts.ChunkSize = int64(chunk)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}

	// Progress only makes sense on a table-format terminal run.
	showProgress := format == output.FormatTable
	if showProgress {
		opts.Progress = func(sent, total int64) {
			if total > 0 {
				fmt.Fprintf(os.Stderr, "\r  %s / %s (%d%%)", cmdutil.FormatBytes(sent), cmdutil.FormatBytes(total), sent*100/total)
			} else {
				fmt.Fprintf(os.Stderr, "\r  %s sent", cmdutil.FormatBytes(sent))
			}
		}
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	if cmdutil.IsVerbose() {
		fmt.Fprintf(os.Stderr, "Pushing %s (%s) to %s:%s\n", localPath, cmdutil.FormatBytes(size), project, remotePath)
		if opts.Checksum != "" {
			fmt.Fprintf(os.Stderr, "Checksum: %s\n", opts.Checksum)
		}
	}

	result, err := client.PushFile(cmd.Context(), project, remotePath, f, size, opts)
	if showProgress {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	if result.Record != nil {
		return cmdutil.PrintResourceWithSuccess(os.Stdout, result.Record,
			fmt.Sprintf("File '%s' uploaded (%s)", result.Record.Path, cmdutil.FormatBytes(result.Record.Size)))
	}

	// Finalization handed off to a background task.
	if !pushWait {
		return cmdutil.PrintResourceWithSuccess(os.Stdout, result.Task,
			fmt.Sprintf("Upload accepted, finalizing in background (task: %s)\nCheck progress with: stagefsctl task show %s", result.Task.TaskID, result.Task.TaskID))
	}

	if showProgress {
		fmt.Fprintf(os.Stderr, "Waiting for finalization (task: %s)...\n", result.Task.TaskID)
	}
	task, err := client.WaitTask(cmd.Context(), result.Task.TaskID, 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed waiting for task %s: %w", result.Task.TaskID, err)
	}
	if !task.Succeeded() {
		return fmt.Errorf("finalization failed: %s", task.Message)
	}
	return cmdutil.PrintResourceWithSuccess(os.Stdout, task,
		fmt.Sprintf("File '%s' uploaded and finalized", remotePath))
}

// hashFile computes the sha256 of the file and rewinds it.
func hashFile(f *os.File) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
