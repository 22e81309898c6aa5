package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
)

// PlainTableWriter renders kubectl-style tables: upper-case headers,
// space-aligned columns and no borders, so the output can be piped to grep,
// awk or cut. Cells may carry color escape sequences; they do not count
// towards the column width.
type PlainTableWriter struct {
	headers     []string
	rows        [][]string
	widths      []int
	padding     int
	showHeaders bool
	out         io.Writer
}

// NewPlainTableWriter creates a writer that shows headers by default.
func NewPlainTableWriter(out io.Writer) *PlainTableWriter {
	return &PlainTableWriter{
		padding:     3,
		showHeaders: true,
		out:         out,
	}
}

// SetHeaders sets the column headers. They are printed upper-cased.
func (w *PlainTableWriter) SetHeaders(headers []string) {
	w.headers = make([]string, len(headers))
	w.widths = make([]int, len(headers))
	for i, h := range headers {
		w.headers[i] = strings.ToUpper(h)
		w.widths[i] = cellWidth(w.headers[i])
	}
}

// SetNoHeaders controls whether to suppress the header row.
func (w *PlainTableWriter) SetNoHeaders(noHeaders bool) {
	w.showHeaders = !noHeaders
}

// AppendRow adds a row, padding or truncating it to the number of headers.
func (w *PlainTableWriter) AppendRow(row []string) {
	normalized := make([]string, len(w.headers))
	copy(normalized, row)
	for i, cell := range normalized {
		w.widths[i] = max(w.widths[i], cellWidth(cell))
	}
	w.rows = append(w.rows, normalized)
}

// Render writes the table. Nothing is written without headers, or without
// rows when headers are suppressed.
func (w *PlainTableWriter) Render() {
	if len(w.headers) == 0 || (len(w.rows) == 0 && !w.showHeaders) {
		return
	}
	if w.showHeaders {
		w.printRow(w.headers)
	}
	for _, row := range w.rows {
		w.printRow(row)
	}
}

func (w *PlainTableWriter) printRow(row []string) {
	var sb strings.Builder
	last := len(row) - 1
	for i, cell := range row {
		sb.WriteString(cell)
		if i < last {
			sb.WriteString(strings.Repeat(" ", w.widths[i]-cellWidth(cell)+w.padding))
		}
	}
	fmt.Fprintln(w.out, strings.TrimRight(sb.String(), " "))
}

func cellWidth(s string) int {
	return text.RuneWidthWithoutEscSequences(s)
}
