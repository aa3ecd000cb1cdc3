package output

import (
	"encoding/json"
	"io"
)

// PrintJSON writes v as two-space indented JSON. HTML escaping is off
// so URLs and paths in payloads print as typed.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
