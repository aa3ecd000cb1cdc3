//go:build !windows

package commands

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// stopProcess signals the server process: SIGTERM for graceful shutdown,
// SIGKILL when force is set.
func stopProcess(process *os.Process, pid int, force bool) error {
	sig, name := os.Signal(syscall.SIGTERM), "SIGTERM"
	if force {
		sig, name = os.Signal(syscall.SIGKILL), "SIGKILL"
	}

	fmt.Printf("Sending %s to PID %d\n", name, pid)

	if err := process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return errProcessDone
		}
		return fmt.Errorf("failed to signal process: %w", err)
	}
	return nil
}
