// Package output renders command results as tables, JSON, or YAML.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format selects how command output is rendered.
type Format string

const (
	// FormatTable renders aligned columns for humans. The default.
	FormatTable Format = "table"
	// FormatJSON renders indented JSON for scripting.
	FormatJSON Format = "json"
	// FormatYAML renders YAML for scripting.
	FormatYAML Format = "yaml"
)

// ParseFormat maps an --output flag value to a Format. The empty string
// selects the table format so commands stay human-readable by default,
// and "yml" is accepted as an alias for YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
}

func (f Format) String() string {
	return string(f)
}

// SGR color codes for status lines.
const (
	ansiRed    = "31"
	ansiGreen  = "32"
	ansiYellow = "33"
)

// Printer writes colorized status lines for table-format output. JSON
// and YAML output never goes through a Printer, so machine-readable
// streams stay free of decoration.
type Printer struct {
	w        io.Writer
	colorize bool
}

// NewPrinter returns a Printer writing to w. Pass colorize=false when
// --no-color is set or the destination is not a terminal.
func NewPrinter(w io.Writer, colorize bool) *Printer {
	return &Printer{w: w, colorize: colorize}
}

// Success prints msg in green.
func (p *Printer) Success(msg string) { p.status(ansiGreen, msg) }

// Warning prints msg in yellow.
func (p *Printer) Warning(msg string) { p.status(ansiYellow, msg) }

// Error prints msg in red.
func (p *Printer) Error(msg string) { p.status(ansiRed, msg) }

func (p *Printer) status(color, msg string) {
	if p.colorize {
		_, _ = fmt.Fprintf(p.w, "\x1b[%sm%s\x1b[0m\n", color, msg)
		return
	}
	_, _ = fmt.Fprintln(p.w, msg)
}
