package main

import (
	"fmt"
	"os"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/cmd/stagefsctl/commands"
	"github.com/stagefs/stagefs/internal/cli/output"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Set version info for commands package
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		output.NewPrinter(os.Stderr, !cmdutil.IsColorDisabled()).Error(fmt.Sprintf("Error: %v", err))
		os.Exit(1)
	}
}
