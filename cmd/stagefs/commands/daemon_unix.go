//go:build !windows

package commands

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// daemonStartupWait bounds how long startDaemon watches the child before
// assuming a slow but healthy start.
const daemonStartupWait = 3 * time.Second

// startDaemon re-executes the binary in the background with --foreground
// and confirms the child survives startup before declaring success.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "stagefs.pid")
	}
	if pid, running := livePid(pidPath); running {
		return fmt.Errorf("stagefs is already running (PID %d)\nUse 'stagefs stop' to stop the running instance", pid)
	}
	// Stale leftover from a crash.
	_ = os.Remove(pidPath)

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "stagefs.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	args := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		args = append(args, "--config", GetConfigFile())
	}

	logHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = logHandle.Close() }()

	child := exec.Command(executable, args...)
	child.Stdout = logHandle
	child.Stderr = logHandle
	// A new session detaches the child from this terminal.
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// The child writes the PID file once it is up. Watch for that, and
	// report an early exit instead of claiming success.
	exited := make(chan struct{})
	go func() {
		_ = child.Wait()
		close(exited)
	}()

	deadline := time.After(daemonStartupWait)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-exited:
			return fmt.Errorf("daemon exited during startup\nCheck the log: %s", logPath)
		case <-deadline:
			// No PID file yet but the process is alive; assume a slow
			// start rather than failing a healthy daemon.
			printDaemonStarted(child.Process.Pid, pidPath, logPath)
			return nil
		case <-ticker.C:
			if pid, ok := livePid(pidPath); ok && pid == child.Process.Pid {
				printDaemonStarted(pid, pidPath, logPath)
				return nil
			}
		}
	}
}

func printDaemonStarted(pid int, pidPath, logPath string) {
	fmt.Printf("stagefs started in background (PID %d)\n", pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'stagefs stop' to stop the server")
	fmt.Println("Use 'stagefs status' to check server status")
}
