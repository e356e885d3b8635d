package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by types that can render themselves as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes data as a borderless, left-aligned table. Without
// headers the rows are printed as-is; KeyValues supplies the colons.
func PrintTable(w io.Writer, data TableRenderer) error {
	headers := data.Headers()
	if len(headers) == 0 {
		table := newTable(w)
		table.AppendBulk(data.Rows())
		table.Render()
		return nil
	}

	table := newTable(w)
	table.SetHeader(headers)
	table.SetAutoFormatHeaders(true)
	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

// KeyValues is a headerless TableRenderer of label/value pairs, rendered
// as "key:  value" lines.
type KeyValues [][2]string

// Add appends a row and returns the receiver for chaining.
func (kv KeyValues) Add(key, value string) KeyValues {
	return append(kv, [2]string{key, value})
}

func (kv KeyValues) Headers() []string { return nil }

func (kv KeyValues) Rows() [][]string {
	rows := make([][]string, len(kv))
	for i, pair := range kv {
		rows[i] = []string{pair[0] + ":", pair[1]}
	}
	return rows
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}
