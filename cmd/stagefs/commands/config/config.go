// Package config implements configuration management subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd groups the configuration subcommands.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Inspect and maintain the stagefs configuration file.

A new file is created with 'stagefs init'. The subcommands here work on
an existing one:
  edit      Open the configuration in $EDITOR
  validate  Check syntax, required fields, and value ranges
  show      Print the resolved configuration (secrets redacted)
  schema    Emit the JSON schema for IDE completion`,
}

func init() {
	Cmd.AddCommand(editCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(schemaCmd)
}
