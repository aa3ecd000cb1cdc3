package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the stagefs configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  stagefs config validate

  # Validate specific config file
  stagefs config validate --config /etc/stagefs/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	// Load and validate configuration
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	// Determine path for display
	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	// Additional validation checks
	var warnings []string

	// Check JWT secret is configured
	if !cfg.API.HasJWTSecret() {
		warnings = append(warnings, "JWT secret not configured - admin password login will fail")
	}

	// Check admin password login is usable
	if cfg.Admin.PasswordHash == "" {
		warnings = append(warnings, "Admin password hash not set - run 'stagefs admin set-password' to enable password login (API keys still work)")
	}

	// Print results
	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Catalog type:    %s\n", cfg.Catalog.Type)
	fmt.Printf("  State store:     %s\n", cfg.State.Type)
	fmt.Printf("  Spool root:      %s\n", cfg.Storage.Root)
	fmt.Printf("  API port:        %d\n", cfg.API.Port)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)

	return nil
}
