package output

import (
	"io"

	"gopkg.in/yaml.v3"
)

// PrintYAML writes v as YAML with two-space indentation.
func PrintYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}
