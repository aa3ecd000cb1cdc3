package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopForce   bool
	stopWait    time.Duration
)

// errProcessDone reports that the target process already exited.
var errProcessDone = errors.New("process already done")

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the stagefs server",
	Long: `Stop a running stagefs server.

Sends SIGTERM and waits for the server to finish draining uploads and
shut down. Use --force for immediate termination with SIGKILL, or
--wait 0 to signal without waiting.

Examples:
  # Stop server (uses default PID file)
  stagefs stop

  # Stop server using custom PID file
  stagefs stop --pid-file /var/run/stagefs.pid

  # Force stop (SIGKILL)
  stagefs stop --force`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/stagefs/stagefs.pid)")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Force kill (SIGKILL) instead of graceful shutdown (SIGTERM)")
	stopCmd.Flags().DurationVar(&stopWait, "wait", 30*time.Second, "How long to wait for the server to exit (0 to not wait)")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pid, running := livePid(pidPath)
	if !running {
		if _, err := os.Stat(pidPath); os.IsNotExist(err) {
			return fmt.Errorf("PID file not found: %s\n\nIs the server running?", pidPath)
		}
		// The file exists but the process is gone.
		fmt.Println("Server already stopped; removing stale PID file")
		_ = os.Remove(pidPath)
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := stopProcess(process, pid, stopForce); err != nil {
		if errors.Is(err, errProcessDone) {
			fmt.Println("Server already stopped")
			_ = os.Remove(pidPath)
			return nil
		}
		return err
	}

	if stopWait <= 0 {
		fmt.Println("Signal sent; not waiting for exit")
		return nil
	}

	// The server removes its own PID file on a clean exit, so polling
	// covers both the graceful and the force path.
	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if _, alive := livePid(pidPath); !alive {
			_ = os.Remove(pidPath)
			fmt.Println("Server stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	return fmt.Errorf("server did not exit within %s; retry with --force", stopWait)
}
