// Package commands implements the CLI commands for the stagefsctl client.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	archivecmd "github.com/stagefs/stagefs/cmd/stagefsctl/commands/archive"
	ctxcmd "github.com/stagefs/stagefs/cmd/stagefsctl/commands/context"
	filecmd "github.com/stagefs/stagefs/cmd/stagefsctl/commands/file"
	keycmd "github.com/stagefs/stagefs/cmd/stagefsctl/commands/key"
	projectcmd "github.com/stagefs/stagefs/cmd/stagefsctl/commands/project"
	taskcmd "github.com/stagefs/stagefs/cmd/stagefsctl/commands/task"
	uploadcmd "github.com/stagefs/stagefs/cmd/stagefsctl/commands/upload"
	"github.com/stagefs/stagefs/internal/cli/credentials"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "stagefsctl",
	Short: "stagefs control - Remote management client",
	Long: `stagefsctl is the command-line client for managing stagefs servers remotely.

Use this tool to manage projects, API keys, files, uploads, and background
tasks through the stagefs REST API.

Use "stagefsctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Sync flags to cmdutil.Flags for subcommands
		cmdutil.Flags.ServerURL, _ = cmd.Flags().GetString("server")
		cmdutil.Flags.Token, _ = cmd.Flags().GetString("token")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
		cmdutil.Flags.NoColor, _ = cmd.Flags().GetBool("no-color")
		cmdutil.Flags.Verbose, _ = cmd.Flags().GetBool("verbose")

		// A stored output preference fills in for the flag default.
		if !cmd.Flags().Changed("output") {
			if store, err := credentials.NewStore(); err == nil {
				if prefs := store.GetPreferences(); prefs.DefaultOutput != "" {
					cmdutil.Flags.Output = prefs.DefaultOutput
				}
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().String("server", "", "Server URL (overrides stored credential)")
	rootCmd.PersistentFlags().String("token", "", "Bearer token or API key (overrides stored credential)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ctxcmd.Cmd)
	rootCmd.AddCommand(projectcmd.Cmd)
	rootCmd.AddCommand(keycmd.Cmd)
	rootCmd.AddCommand(filecmd.Cmd)
	rootCmd.AddCommand(archivecmd.Cmd)
	rootCmd.AddCommand(uploadcmd.Cmd)
	rootCmd.AddCommand(taskcmd.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
