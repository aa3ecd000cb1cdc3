package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the minimum severity a record needs to be emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// enabled reports whether records at level l pass the current filter.
func (l Level) enabled() bool {
	return l >= Level(currentLevel.Load())
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseLevel maps config strings to levels. Unknown strings are rejected
// so a typo cannot silently change the filter.
func parseLevel(s string) (Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return 0, false
}

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// Package state. Level and format live in atomics so the hot-path filter
// check never takes the mutex; the mutex guards handler swaps.
var (
	currentLevel  atomic.Int32
	currentFormat atomic.Value // "text" or "json"

	mu         sync.RWMutex
	handler    slog.Handler
	slogger    *slog.Logger
	output     io.Writer = os.Stdout
	outputFile *os.File
	useColor   bool = true
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	currentFormat.Store("text")

	if f, ok := output.(*os.File); ok {
		useColor = isTerminal(f.Fd())
	}
	reconfigure()
}

// reconfigure rebuilds the slog handler from the current settings.
func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	levelVar := new(slog.LevelVar)
	levelVar.Set(Level(currentLevel.Load()).slog())
	opts := &slog.HandlerOptions{Level: levelVar}

	if format, _ := currentFormat.Load().(string); format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = NewColorTextHandler(output, opts, useColor)
	}
	slogger = slog.New(handler)
}

// Init applies the configuration. Output may name a file; the previous
// log file, if any, is closed once the new one is in place.
func Init(cfg Config) error {
	if cfg.Output != "" {
		w, color, f, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}

		mu.Lock()
		prev := outputFile
		output = w
		outputFile = f
		useColor = color
		mu.Unlock()

		if prev != nil {
			_ = prev.Close()
		}
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	return nil
}

// openOutput resolves an output name to a writer. The returned file is
// non-nil only when the name was a path.
func openOutput(name string) (io.Writer, bool, *os.File, error) {
	switch strings.ToLower(name) {
	case "stdout":
		return os.Stdout, isTerminal(os.Stdout.Fd()), nil, nil
	case "stderr":
		return os.Stderr, isTerminal(os.Stderr.Fd()), nil, nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, false, nil, fmt.Errorf("failed to open log file %q: %w", name, err)
	}
	return f, false, f, nil
}

// InitWithWriter points the logger at an arbitrary writer. Primarily
// useful for tests.
func InitWithWriter(w io.Writer, level, format string, enableColor bool) {
	mu.Lock()
	output = w
	outputFile = nil
	useColor = enableColor
	mu.Unlock()

	if level != "" {
		SetLevel(level)
	}
	if format != "" {
		SetFormat(format)
	}
}

// SetLevel sets the minimum log level. Invalid levels are ignored.
func SetLevel(level string) {
	l, ok := parseLevel(level)
	if !ok {
		return
	}
	currentLevel.Store(int32(l))
	reconfigure()
}

// SetFormat sets the output format (text or json). Invalid formats are
// ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	currentFormat.Store(format)
	reconfigure()
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// logAt is the single emit path behind the package helpers. The level
// check runs before any argument work.
func logAt(ctx context.Context, level Level, msg string, args []any) {
	if !level.enabled() {
		return
	}
	if ctx != nil {
		args = appendContextFields(ctx, args)
	}
	getLogger().Log(ctx, level.slog(), msg, args...)
}

// Debug logs at debug level with structured key/value fields.
func Debug(msg string, args ...any) { logAt(nil, LevelDebug, msg, args) }

// Info logs at info level with structured key/value fields.
func Info(msg string, args ...any) { logAt(nil, LevelInfo, msg, args) }

// Warn logs at warn level with structured key/value fields.
func Warn(msg string, args ...any) { logAt(nil, LevelWarn, msg, args) }

// Error logs at error level with structured key/value fields.
func Error(msg string, args ...any) { logAt(nil, LevelError, msg, args) }

// DebugCtx logs at debug level, prefixing the fields carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, LevelDebug, msg, args)
}

// InfoCtx logs at info level, prefixing the fields carried by ctx.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, LevelInfo, msg, args)
}

// WarnCtx logs at warn level, prefixing the fields carried by ctx.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, LevelWarn, msg, args)
}

// ErrorCtx logs at error level, prefixing the fields carried by ctx.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, LevelError, msg, args)
}

// appendContextFields prepends the request-scoped fields from ctx so they
// come first in the output.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	pairs := [...]struct{ key, value string }{
		{KeyTraceID, lc.TraceID},
		{KeySpanID, lc.SpanID},
		{KeyOperation, lc.Operation},
		{KeyProject, lc.Project},
		{KeyUploadID, lc.UploadID},
		{KeyTaskID, lc.TaskID},
		{KeyClientIP, lc.ClientIP},
	}

	out := make([]any, 0, 2*len(pairs)+len(args))
	for _, p := range pairs {
		if p.value != "" {
			out = append(out, p.key, p.value)
		}
	}
	return append(out, args...)
}

// With returns a logger with pre-bound attributes.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// Duration returns the time since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
