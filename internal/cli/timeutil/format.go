// Package timeutil formats server-reported times and durations for
// human-readable CLI output.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// displayFormat renders timestamps in the reader's zone.
const displayFormat = "2006-01-02 15:04:05 MST"

// FormatTime converts an RFC3339 timestamp to local display form. The
// input comes back unchanged when it does not parse, so raw server
// strings still show up rather than vanishing.
func FormatTime(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return t.Local().Format(displayFormat)
}

// FormatUptime rewrites a Go duration string like "72h30m15s" as
// "3d 0h 30m 15s". Unparseable input comes back unchanged.
func FormatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}

	total := int64(d.Round(time.Second) / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd ", days)
	}
	if days > 0 || hours > 0 {
		fmt.Fprintf(&b, "%dh ", hours)
	}
	if days > 0 || hours > 0 || minutes > 0 {
		fmt.Fprintf(&b, "%dm ", minutes)
	}
	fmt.Fprintf(&b, "%ds", seconds)
	return b.String()
}
