package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/stagefs/stagefs/internal/cli/prompt"
	"github.com/stagefs/stagefs/pkg/config"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative account maintenance",
	Long: `Maintain the admin account used for "stagefsctl login".

Subcommands:
  set-password  Hash a new admin password into the configuration file`,
}

var adminSetPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Set the admin login password",
	Long: `Hash a new admin password and store it in the configuration file.

The password is prompted twice and never echoed. Only the bcrypt hash
is written. A running server picks the change up on restart.

Examples:
  # Set the password in the default config
  stagefs admin set-password

  # Set it in a specific config file
  stagefs admin set-password --config /etc/stagefs/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runAdminSetPassword,
}

func init() {
	adminCmd.AddCommand(adminSetPasswordCmd)
}

// minPasswordLen matches the hash cost tradeoff: short passwords fall
// to offline guessing regardless of bcrypt.
const minPasswordLen = 8

func runAdminSetPassword(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	password, err := prompt.Password("New password")
	if err != nil {
		return handlePromptError(err)
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	confirm, err := prompt.Password("Confirm password")
	if err != nil {
		return handlePromptError(err)
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	cfg.Admin.PasswordHash = string(hash)
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Admin password updated for %q in %s\n", cfg.Admin.Username, configPath)
	fmt.Println("Restart the server for the change to take effect.")
	return nil
}

func handlePromptError(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}
