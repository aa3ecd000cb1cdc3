//go:build windows

package commands

import "errors"

// startDaemon is a stub; Windows has no fork-style daemonization. Run the
// server with --foreground under a service manager instead.
func startDaemon() error {
	return errors.New("daemon mode is not supported on Windows; run 'stagefs start --foreground' under a service manager")
}
