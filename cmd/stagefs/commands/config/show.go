package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/internal/cli/output"
	"github.com/stagefs/stagefs/pkg/config"
)

var (
	showOutput  string
	showSecrets bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the resolved configuration",
	Long: `Display the configuration the server would run with, after defaults
are applied.

Secret values (JWT secret, database passwords, admin password hash) are
replaced with "[redacted]" unless --show-secrets is given.

Examples:
  # Show resolved config as YAML
  stagefs config show

  # Show as JSON
  stagefs config show --output json

  # Show a specific config file with secrets visible
  stagefs config show --config /etc/stagefs/config.yaml --show-secrets`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print secret values instead of redacting them")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	if !showSecrets {
		redact(cfg)
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(os.Stdout, cfg)
	}
	return output.PrintYAML(os.Stdout, cfg)
}

const redacted = "[redacted]"

// redact blanks values that must not end up in terminals or pasted
// support bundles. Empty fields stay empty so the reader can tell
// "not set" from "hidden".
func redact(cfg *config.Config) {
	if cfg.API.JWT.Secret != "" {
		cfg.API.JWT.Secret = redacted
	}
	if cfg.Admin.PasswordHash != "" {
		cfg.Admin.PasswordHash = redacted
	}
	if cfg.Catalog.Postgres.Password != "" {
		cfg.Catalog.Postgres.Password = redacted
	}
	if cfg.State.Postgres.Password != "" {
		cfg.State.Postgres.Password = redacted
	}
}
