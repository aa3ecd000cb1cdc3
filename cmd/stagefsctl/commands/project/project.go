// Package project implements project management commands for stagefsctl.
package project

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for project management.
var Cmd = &cobra.Command{
	Use:   "project",
	Short: "Project management",
	Long: `Manage projects on the stagefs server.

A project is a quota-scoped namespace for staged files. Project commands
allow you to create, list, inspect, and delete projects, and to change
their quota. These operations require admin privileges.

Examples:
  # List all projects
  stagefsctl project list

  # Create a project with a 50 GiB quota
  stagefsctl project create --id renders --quota 50GiB

  # Show project details
  stagefsctl project show renders

  # Change a project's quota
  stagefsctl project quota set renders 100GiB

  # Delete a project
  stagefsctl project delete renders`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(quotaCmd)
	Cmd.AddCommand(deleteCmd)
}
