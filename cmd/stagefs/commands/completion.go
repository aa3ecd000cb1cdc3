package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for stagefs.

To load completions:

Bash:
  $ source <(stagefs completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ stagefs completion bash > /etc/bash_completion.d/stagefs
  # macOS:
  $ stagefs completion bash > $(brew --prefix)/etc/bash_completion.d/stagefs

Zsh:
  $ source <(stagefs completion zsh)

  # To load completions for each session, execute once:
  $ stagefs completion zsh > "${fpath[1]}/_stagefs"

Fish:
  $ stagefs completion fish | source

  # To load completions for each session, execute once:
  $ stagefs completion fish > ~/.config/fish/completions/stagefs.fish

PowerShell:
  PS> stagefs completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}
