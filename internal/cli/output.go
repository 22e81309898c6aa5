package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents the supported output formats for CLI commands.
type OutputFormat string

const (
	// OutputFormatTable formats output as a kubectl-style plain table
	OutputFormatTable OutputFormat = "table"
	// OutputFormatJSON formats output as indented JSON
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML formats output as YAML converted from the JSON form
	OutputFormatYAML OutputFormat = "yaml"
)

// ValidOutputFormats contains all valid output format values.
var ValidOutputFormats = []OutputFormat{
	OutputFormatTable,
	OutputFormatJSON,
	OutputFormatYAML,
}

// ValidateOutputFormat validates that format is a supported output format.
func ValidateOutputFormat(format string) error {
	switch OutputFormat(format) {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format: %q (valid: table, json, yaml)", format)
	}
}

// Table is the tabular rendering of a result.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Printer writes command results in the selected format.
type Printer struct {
	Format    OutputFormat
	NoHeaders bool
}

// Print writes data as JSON or YAML, or tbl for the table format.
func (p *Printer) Print(w io.Writer, data any, tbl Table) error {
	switch p.Format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		return writeYAML(w, data)
	default:
		tw := NewPlainTableWriter(w)
		tw.SetHeaders(tbl.Headers)
		tw.SetNoHeaders(p.NoHeaders)
		for _, row := range tbl.Rows {
			tw.AppendRow(row)
		}
		tw.Render()
		return nil
	}
}

// writeYAML goes through JSON so field names follow the json tags.
func writeYAML(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return fmt.Errorf("failed to encode output as YAML: %w", err)
	}
	_, err = w.Write(out)
	return err
}
