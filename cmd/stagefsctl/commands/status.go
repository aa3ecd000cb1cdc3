package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/cli/credentials"
	"github.com/stagefs/stagefs/internal/cli/output"
	"github.com/stagefs/stagefs/internal/cli/timeutil"
	"github.com/stagefs/stagefs/pkg/apiclient"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and readiness",
	Long: `Query the health and readiness endpoints of the stagefs server.

The server URL is taken from the current context, or from the --server flag.
No authentication is required.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// serverStatus is the aggregate view rendered by the status command.
type serverStatus struct {
	ServerURL string                     `json:"server_url"`
	Healthy   bool                       `json:"healthy"`
	Ready     bool                       `json:"ready"`
	Service   string                     `json:"service,omitempty"`
	StartedAt string                     `json:"started_at,omitempty"`
	Uptime    string                     `json:"uptime,omitempty"`
	Checks    []apiclient.ReadinessCheck `json:"checks,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	serverURL, err := resolveServerURL()
	if err != nil {
		return err
	}

	status := &serverStatus{ServerURL: serverURL}
	client := apiclient.New(serverURL)

	healthRes, err := client.Health()
	if err != nil {
		status.Error = err.Error()
		return printStatus(cmd, status)
	}
	status.Healthy = healthRes.Healthy()

	// The liveness payload carries service identity and uptime.
	var data struct {
		Service   string `json:"service"`
		StartedAt string `json:"started_at"`
		Uptime    string `json:"uptime"`
	}
	if len(healthRes.Data) > 0 {
		if err := json.Unmarshal(healthRes.Data, &data); err == nil {
			status.Service = data.Service
			status.StartedAt = data.StartedAt
			status.Uptime = data.Uptime
		}
	}

	readyRes, checks, err := client.Ready()
	if err == nil {
		status.Ready = readyRes.Healthy()
		status.Checks = checks
	}

	return printStatus(cmd, status)
}

// resolveServerURL returns the server URL from the --server flag or the
// current credential context.
func resolveServerURL() (string, error) {
	if cmdutil.Flags.ServerURL != "" {
		url := cmdutil.Flags.ServerURL
		if !strings.Contains(url, "://") {
			url = "http://" + url
		}
		return strings.TrimRight(url, "/"), nil
	}

	store, err := credentials.NewStore()
	if err != nil {
		return "", fmt.Errorf("failed to open credential store: %w", err)
	}
	ctx, err := store.GetCurrentContext()
	if err != nil {
		return "", fmt.Errorf("no server configured - run 'stagefsctl login' or pass --server")
	}
	return ctx.ServerURL, nil
}

func printStatus(cmd *cobra.Command, status *serverStatus) error {
	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), status)
	case output.FormatYAML:
		return output.PrintYAML(cmd.OutOrStdout(), status)
	}

	useColor := !cmdutil.IsColorDisabled()
	green := func(s string) string { return s }
	red := func(s string) string { return s }
	if useColor {
		green = func(s string) string { return "\033[32m" + s + "\033[0m" }
		red = func(s string) string { return "\033[31m" + s + "\033[0m" }
	}

	fmt.Println("stagefs Server Status")
	fmt.Println("=====================")
	fmt.Printf("Server:   %s\n", status.ServerURL)

	if status.Error != "" {
		fmt.Printf("Status:   %s\n", red("○ unreachable"))
		fmt.Printf("Error:    %s\n", status.Error)
		return nil
	}

	if status.Healthy {
		fmt.Printf("Status:   %s\n", green("● healthy"))
	} else {
		fmt.Printf("Status:   %s\n", red("○ unhealthy"))
	}
	if status.Service != "" {
		fmt.Printf("Service:  %s\n", status.Service)
	}
	if status.StartedAt != "" {
		fmt.Printf("Started:  %s\n", timeutil.FormatTime(status.StartedAt))
	}
	if status.Uptime != "" {
		fmt.Printf("Uptime:   %s\n", timeutil.FormatUptime(status.Uptime))
	}

	if len(status.Checks) > 0 {
		fmt.Println()
		if status.Ready {
			fmt.Printf("Ready:    %s\n", green("yes"))
		} else {
			fmt.Printf("Ready:    %s\n", red("no"))
		}
		for _, check := range status.Checks {
			mark := green("●")
			if check.Status != "healthy" {
				mark = red("○")
			}
			line := fmt.Sprintf("  %s %-12s %s", mark, check.Name, check.Status)
			if check.Latency != "" {
				line += fmt.Sprintf(" (%s)", check.Latency)
			}
			if check.Error != "" {
				line += fmt.Sprintf(" - %s", check.Error)
			}
			fmt.Println(line)
		}
	}
	return nil
}
