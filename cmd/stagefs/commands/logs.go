package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/pkg/config"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail server logs",
	Long: `Display and optionally follow the stagefs server logs.

This command reads the log file named by 'logging.output' in the
configuration and displays the most recent entries. If the server logs
to stdout or stderr there is no file to read and the command fails with
a hint.

Examples:
  # Show last 100 lines (default)
  stagefs logs

  # Show last 50 lines
  stagefs logs -n 50

  # Follow logs in real-time
  stagefs logs -f

  # Show logs since a specific time
  stagefs logs --since "2026-01-15T10:00:00Z"

  # Combine options
  stagefs logs -f -n 20`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since timestamp (RFC3339 format)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	logOutput := cfg.Logging.Output

	if logOutput == "stdout" || logOutput == "stderr" {
		return fmt.Errorf("server is configured to log to %s, not a file\nSet 'logging.output' to a file path to use this command", logOutput)
	}

	if _, err := os.Stat(logOutput); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s\nThe server may not have started yet or is logging elsewhere", logOutput)
	}

	var sinceTime time.Time
	if logsSince != "" {
		sinceTime, err = time.Parse(time.RFC3339, logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use RFC3339): %w", err)
		}
	}

	if logsFollow {
		return followLogs(logOutput, logsLines, sinceTime)
	}

	return showLogs(logOutput, logsLines, sinceTime)
}

// showLogs prints the last n lines of the log file, skipping entries older
// than since. Lines are kept in a fixed ring so a long-lived log file does
// not pull its whole history into memory.
func showLogs(logFile string, n int, since time.Time) error {
	if n <= 0 {
		return nil
	}

	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	ring := make([]string, n)
	total := 0

	scanner := bufio.NewScanner(file)
	// Room for long JSON entries
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !since.IsZero() {
			if lineTime := extractLogTime(line); !lineTime.IsZero() && lineTime.Before(since) {
				continue
			}
		}
		ring[total%n] = line
		total++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	start := 0
	if total > n {
		start = total - n
	}
	for i := start; i < total; i++ {
		fmt.Println(ring[i%n])
	}

	return nil
}

// followLogs prints the last initialLines entries and then streams new ones
// as the server writes them. Survives logrotate: when the file is renamed or
// removed the stream waits for the path to reappear, and an in-place
// truncation rewinds to the new start.
func followLogs(logFile string, initialLines int, since time.Time) error {
	if err := showLogs(logFile, initialLines, since); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory rather than the file. A file watch follows the
	// inode, so rename-style rotation would leave it pointing at the old
	// file and the recreate would never be seen.
	if err := watcher.Add(filepath.Dir(logFile)); err != nil {
		return fmt.Errorf("failed to watch log directory: %w", err)
	}

	stream, err := openTailStream(logFile, true)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() {
		if stream != nil {
			_ = stream.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)...\n", logFile)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != logFile {
				continue
			}

			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Rotated away. Drop the stale handle and wait for the
				// replacement to be created.
				_ = stream.Close()
				stream = nil

			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if stream == nil {
					s, err := openTailStream(logFile, false)
					if err != nil {
						continue
					}
					stream = s
				}
				stream.rewindIfTruncated()
				stream.drain()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// tailStream reads complete lines from a growing file. A trailing fragment
// that arrives without its newline is held back until the rest of the line
// is written.
type tailStream struct {
	file    *os.File
	reader  *bufio.Reader
	partial strings.Builder
}

func openTailStream(path string, fromEnd bool) (*tailStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if fromEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return &tailStream{file: f, reader: bufio.NewReader(f)}, nil
}

func (t *tailStream) Close() error {
	return t.file.Close()
}

// drain prints every complete line written since the last call.
func (t *tailStream) drain() {
	for {
		chunk, err := t.reader.ReadString('\n')
		t.partial.WriteString(chunk)
		if err != nil {
			return
		}
		fmt.Print(t.partial.String())
		t.partial.Reset()
	}
}

// rewindIfTruncated restarts from the top after an in-place truncation
// (logrotate copytruncate). Without this the stream would wait forever for
// the file to grow past its old size.
func (t *tailStream) rewindIfTruncated() {
	fi, err := t.file.Stat()
	if err != nil {
		return
	}
	pos, err := t.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return
	}
	// pos counts bytes handed to bufio, including ones still buffered.
	if fi.Size() >= pos-int64(t.reader.Buffered()) {
		return
	}
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		return
	}
	t.reader.Reset(t.file)
	t.partial.Reset()
}

// textTimeLayout matches the prefix the text log handler writes.
const textTimeLayout = "2006-01-02 15:04:05"

// extractLogTime pulls the timestamp out of a log line. Text-format lines
// start with "2006-01-02 15:04:05"; JSON-format lines carry a "time" field
// in RFC3339Nano. Returns the zero time when neither shape matches.
func extractLogTime(line string) time.Time {
	if len(line) >= len(textTimeLayout) {
		if t, err := time.ParseInLocation(textTimeLayout, line[:len(textTimeLayout)], time.Local); err == nil {
			return t
		}
	}

	const timeKey = `"time":"`
	if idx := strings.Index(line, timeKey); idx >= 0 {
		start := idx + len(timeKey)
		if end := strings.IndexByte(line[start:], '"'); end > 0 {
			if t, err := time.Parse(time.RFC3339Nano, line[start:start+end]); err == nil {
				return t
			}
		}
	}

	return time.Time{}
}
