package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by list and show payloads that know how
// to lay themselves out as a table.
type TableRenderer interface {
	// Headers returns the column titles.
	Headers() []string
	// Rows returns one slice of cells per line, matching Headers.
	Rows() [][]string
}

// PrintTable renders rows as borderless aligned columns, two spaces
// between columns and upper-cased headers.
func PrintTable(w io.Writer, data TableRenderer) error {
	t := tablewriter.NewWriter(w)
	t.SetHeader(data.Headers())
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(true)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderLine(false)
	t.SetBorder(false)
	t.SetCenterSeparator("")
	t.SetColumnSeparator("")
	t.SetRowSeparator("")
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	t.AppendBulk(data.Rows())
	t.Render()
	return nil
}
