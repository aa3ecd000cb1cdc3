//go:build windows

package commands

import (
	"errors"
	"fmt"
	"os"
)

// stopProcess stops the server process on Windows: Kill when force is set,
// os.Interrupt otherwise.
func stopProcess(process *os.Process, pid int, force bool) error {
	var err error
	if force {
		fmt.Printf("Killing PID %d\n", pid)
		err = process.Kill()
	} else {
		fmt.Printf("Interrupting PID %d\n", pid)
		err = process.Signal(os.Interrupt)
	}

	if err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return errProcessDone
		}
		return fmt.Errorf("failed to stop process: %w", err)
	}
	return nil
}
