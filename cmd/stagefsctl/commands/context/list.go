package context

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/cli/credentials"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored contexts",
	Long: `List every stored server context.

The active context is marked with an asterisk. The session column shows
whether the stored token is still usable.

Examples:
  # List contexts as table
  stagefsctl context list

  # List as JSON
  stagefsctl context list -o json`,
	Args: cobra.NoArgs,
	RunE: runContextList,
}

// ContextInfo is one stored context as rendered by list and current.
type ContextInfo struct {
	Name      string `json:"name" yaml:"name"`
	Current   bool   `json:"current" yaml:"current"`
	ServerURL string `json:"server_url" yaml:"server_url"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Session   string `json:"session" yaml:"session"`
}

// sessionState classifies the stored token: active, expired, or none.
func sessionState(ctx *credentials.Context) string {
	switch {
	case ctx.AccessToken == "":
		return "none"
	case ctx.IsExpired():
		return "expired"
	default:
		return "active"
	}
}

// ContextList renders contexts as a table.
type ContextList []ContextInfo

// Headers implements TableRenderer.
func (cl ContextList) Headers() []string {
	return []string{"", "NAME", "SERVER", "USER", "SESSION"}
}

// Rows implements TableRenderer.
func (cl ContextList) Rows() [][]string {
	rows := make([][]string, 0, len(cl))
	for _, c := range cl {
		mark := ""
		if c.Current {
			mark = "*"
		}
		rows = append(rows, []string{mark, c.Name, c.ServerURL, cmdutil.EmptyOr(c.Username, "-"), c.Session})
	}
	return rows
}

func runContextList(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	names := store.ListContexts()
	current := store.GetCurrentContextName()

	contexts := make(ContextList, 0, len(names))
	for _, name := range names {
		ctx, err := store.GetContext(name)
		if err != nil {
			continue
		}
		contexts = append(contexts, ContextInfo{
			Name:      name,
			Current:   name == current,
			ServerURL: ctx.ServerURL,
			Username:  ctx.Username,
			Session:   sessionState(ctx),
		})
	}

	return cmdutil.PrintOutput(os.Stdout, contexts, len(contexts) == 0,
		"No contexts stored. Use 'stagefsctl login' to create one.", contexts)
}
