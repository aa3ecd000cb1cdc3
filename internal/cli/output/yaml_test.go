package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintYAML(t *testing.T) {
	project := struct {
		ID    string `yaml:"id"`
		Quota int64  `yaml:"quota_bytes"`
	}{ID: "renders", Quota: 5368709120}

	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, project))

	out := buf.String()
	assert.Contains(t, out, "id: renders")
	assert.Contains(t, out, "quota_bytes: 5368709120")
}

func TestPrintYAMLNested(t *testing.T) {
	status := struct {
		Project string `yaml:"project"`
		Usage   struct {
			Used     int64 `yaml:"used"`
			Reserved int64 `yaml:"reserved"`
		} `yaml:"usage"`
	}{Project: "captures"}
	status.Usage.Used = 1024
	status.Usage.Reserved = 2048

	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, status))

	out := buf.String()
	assert.Contains(t, out, "project: captures")
	assert.Contains(t, out, "  used: 1024")
	assert.Contains(t, out, "  reserved: 2048")
}
