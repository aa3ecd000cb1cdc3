package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/pkg/api"
	"github.com/stagefs/stagefs/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a commented sample configuration file.

By default the file is created at $XDG_CONFIG_HOME/stagefs/config.yaml.
Use --config to pick another path.

Examples:
  # Initialize at the default location
  stagefs init

  # Initialize at a custom path
  stagefs init --config /etc/stagefs/config.yaml

  # Overwrite an existing file
  stagefs init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	configPath := configFile
	var err error
	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review the file; the defaults run everything embedded (SQLite catalog,")
	fmt.Println("     Badger state store, spool under the state directory)")
	fmt.Println("  2. Set the admin login password: stagefs admin set-password")
	fmt.Printf("  3. Start the server: stagefs start --config %s\n", configPath)
	fmt.Println()
	fmt.Println("Security note:")
	fmt.Println("  A random JWT secret was generated for development use. For production,")
	fmt.Println("  keep the secret out of the file and set it via the environment:")
	fmt.Printf("    export %s=$(openssl rand -hex 32)\n", api.EnvJWTSecret)

	return nil
}
