package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/pkg/config"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open configuration in editor",
	Long: `Open the configuration file in your editor.

Uses $VISUAL, then $EDITOR, falling back to 'vi'. The file is loaded
again after the editor exits; a broken config is kept but reported.

Examples:
  # Edit default config
  stagefs config edit

  # Edit specific config file
  stagefs config edit --config /etc/stagefs/config.yaml`,
	RunE: runConfigEdit,
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	// Config path comes from the root's persistent flag.
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it first with:\n"+
			"  stagefs init --config %s",
			configPath, configPath)
	}

	// $VISUAL may carry arguments ("code -w"), so split on whitespace.
	parts := strings.Fields(resolveEditor())
	parts = append(parts, configPath)

	editorCmd := exec.Command(parts[0], parts[1:]...)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor %q failed: %w", parts[0], err)
	}

	// Catch typos now instead of at the next server start.
	if _, err := config.Load(configPath); err != nil {
		fmt.Printf("Warning: the edited file does not load: %v\n", err)
		fmt.Println("Run 'stagefs config validate' after fixing it.")
		return nil
	}

	fmt.Println("Configuration OK")
	return nil
}

// resolveEditor picks the editor per POSIX convention: $VISUAL, then
// $EDITOR, then vi.
func resolveEditor() string {
	if v := os.Getenv("VISUAL"); v != "" {
		return v
	}
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	return "vi"
}
