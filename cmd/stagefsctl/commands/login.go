package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/cli/credentials"
	"github.com/stagefs/stagefs/internal/cli/prompt"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var (
	loginUsername string
	loginPassword string
	loginContext  string
)

var loginCmd = &cobra.Command{
	Use:   "login [server-url]",
	Short: "Authenticate with a stagefs server",
	Long: `Authenticate with a stagefs server and store the credentials locally.

The server URL can be given as an argument or entered interactively. Credentials
are stored per context, so you can stay logged in to multiple servers and switch
between them with "stagefsctl context use".

Examples:
  # Login interactively
  stagefsctl login

  # Login to a specific server
  stagefsctl login http://stagefs.example.com:8080

  # Login with a named context
  stagefsctl login http://localhost:8080 --context local`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Username (prompted if not given)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted if not given)")
	loginCmd.Flags().StringVar(&loginContext, "context", "", "Context name to store credentials under")
}

func runLogin(cmd *cobra.Command, args []string) error {
	// Resolve server URL: argument, then prompt
	serverURL := ""
	interactive := false
	if len(args) > 0 {
		serverURL = args[0]
	}
	if serverURL == "" {
		url, err := prompt.Input("Server URL", "http://localhost:8080")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
		serverURL = url
		interactive = true
	}
	if !strings.Contains(serverURL, "://") {
		serverURL = "http://" + serverURL
	}
	serverURL = strings.TrimRight(serverURL, "/")

	username := loginUsername
	if username == "" {
		u, err := prompt.InputRequired("Username")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
		username = u
	}

	password := loginPassword
	if password == "" {
		p, err := prompt.Password("Password")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
		password = p
	}

	client := apiclient.New(serverURL)
	tokens, err := client.Login(username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	contextName := loginContext
	if contextName == "" && interactive {
		name, err := prompt.InputOptional("Context name")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
		contextName = name
	}
	if contextName == "" {
		contextName = credentials.GenerateContextName(serverURL)
	}

	ctx := &credentials.Context{
		ServerURL:    serverURL,
		Username:     username,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}
	if err := store.SetContext(contextName, ctx); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	if err := store.UseContext(contextName); err != nil {
		return fmt.Errorf("failed to activate context: %w", err)
	}

	cmdutil.PrintSuccessWithInfo(
		fmt.Sprintf("Logged in to %s as %s", serverURL, username),
		fmt.Sprintf("Context %q is now active (stored in %s)", contextName, store.ConfigPath()))
	return nil
}
