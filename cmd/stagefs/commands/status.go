package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/internal/cli/health"
	"github.com/stagefs/stagefs/internal/cli/output"
	"github.com/stagefs/stagefs/internal/cli/timeutil"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the stagefs server.

Probes the liveness endpoint for process status and uptime, and the
readiness endpoint for the state of the catalog and the spool volume.

Examples:
  # Check status (uses default settings)
  stagefs status

  # Check status with custom API port
  stagefs status --api-port 9080

  # Output as JSON
  stagefs status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/stagefs/stagefs.pid)")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// probeTimeout bounds each local HTTP probe; status should answer quickly
// even when the server hangs.
const probeTimeout = 2 * time.Second

// errBadPayload marks a probe that connected but returned something the
// CLI could not decode.
var errBadPayload = errors.New("invalid health payload")

// ServerStatus is the aggregate the status command reports.
type ServerStatus struct {
	Running   bool           `json:"running" yaml:"running"`
	Healthy   bool           `json:"healthy" yaml:"healthy"`
	Ready     bool           `json:"ready" yaml:"ready"`
	PID       int            `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartedAt string         `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    string         `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Checks    []health.Check `json:"checks,omitempty" yaml:"checks,omitempty"`
	Message   string         `json:"message" yaml:"message"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := ServerStatus{Message: "Server is not running"}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if pid, ok := livePid(pidPath); ok {
		status.Running = true
		status.PID = pid
	}

	// The probes work for both daemon and foreground mode; the PID file
	// only exists for daemons.
	client := &http.Client{Timeout: probeTimeout}

	live, err := probeLiveness(client, statusAPIPort)
	switch {
	case err == nil:
		status.Running = true
		status.Healthy = live.Healthy()
		status.StartedAt = live.Data.StartedAt
		status.Uptime = live.Data.Uptime
		if status.Healthy {
			status.Message = "Server is running and healthy"
		} else {
			status.Message = fmt.Sprintf("Server is running but unhealthy: %s", live.Error)
		}
	case errors.Is(err, errBadPayload):
		status.Running = true
		status.Message = "Server is running but returned an invalid health payload"
	case status.Running:
		status.Message = "Server process exists but the health probe failed"
	}

	if status.Healthy {
		if ready, err := probeReadiness(client, statusAPIPort); err == nil {
			status.Ready = ready.Healthy()
			status.Checks = ready.Data.Checks
			if !status.Ready {
				status.Message = "Server is running but not ready"
			}
		}
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

// livePid reads a PID file and reports whether that process exists.
func livePid(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// FindProcess succeeds on Unix even for dead PIDs; signal 0 is the
	// actual existence test.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

func probeLiveness(client *http.Client, port int) (*health.Response, error) {
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/healthz", port))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out health.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errBadPayload
	}
	return &out, nil
}

func probeReadiness(client *http.Client, port int) (*health.ReadyResponse, error) {
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/readyz", port))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out health.ReadyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errBadPayload
	}
	return &out, nil
}

func printStatusTable(status ServerStatus) {
	fmt.Println()
	fmt.Println("stagefs server")
	fmt.Println("==============")
	fmt.Println()

	switch {
	case status.Running && status.Healthy:
		fmt.Printf("  Status:     \033[32m● Running\033[0m\n")
	case status.Running:
		fmt.Printf("  Status:     \033[33m● Running (unhealthy)\033[0m\n")
	default:
		fmt.Printf("  Status:     \033[31m○ Stopped\033[0m\n")
	}

	if status.PID != 0 {
		fmt.Printf("  PID:        %d\n", status.PID)
	}
	if status.StartedAt != "" {
		fmt.Printf("  Started:    %s\n", timeutil.FormatTime(status.StartedAt))
	}
	if status.Uptime != "" {
		fmt.Printf("  Uptime:     %s\n", timeutil.FormatUptime(status.Uptime))
	}

	if len(status.Checks) > 0 {
		fmt.Println()
		for _, check := range status.Checks {
			mark := "\033[32m✓\033[0m"
			detail := check.Latency
			if check.Status != "healthy" {
				mark = "\033[31m✗\033[0m"
				detail = check.Error
			}
			fmt.Printf("  %s %-8s %s\n", mark, check.Name, detail)
		}
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}
