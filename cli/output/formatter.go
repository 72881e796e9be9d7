// Package output renders command results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format represents the output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
	}
}

// Formatter formats output in various formats
type Formatter struct {
	Format    Format
	NoHeaders bool
	Quiet     bool
	Writer    io.Writer
	ErrWriter io.Writer
}

// NewFormatter creates a formatter writing to stdout and stderr
func NewFormatter(format Format, noHeaders, quiet bool) *Formatter {
	return &Formatter{
		Format:    format,
		NoHeaders: noHeaders,
		Quiet:     quiet,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

// Structured reports whether output is machine-readable
func (f *Formatter) Structured() bool {
	return f.Format == FormatJSON || f.Format == FormatYAML
}

// Print outputs data in the configured format; table mode falls back to JSON
func (f *Formatter) Print(data interface{}) error {
	if f.Quiet {
		return nil
	}
	if f.Format == FormatYAML {
		return f.printYAML(data)
	}
	return f.printJSON(data)
}

func (f *Formatter) printJSON(data interface{}) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// printYAML goes through JSON first so json tags name the fields
func (f *Formatter) printYAML(data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(f.Writer)
	encoder.SetIndent(2)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(generic)
}

// TableData represents tabular data for table output
type TableData struct {
	Headers []string
	Rows    [][]string
}

// PrintTable prints rows as an aligned table, or as a list of objects keyed by header in the
// structured formats
func (f *Formatter) PrintTable(data TableData) {
	if f.Quiet {
		return
	}

	if f.Format != FormatTable {
		rows := make([]map[string]string, len(data.Rows))
		for i, row := range data.Rows {
			rowMap := make(map[string]string)
			for j, cell := range row {
				if j < len(data.Headers) {
					rowMap[strings.ToLower(data.Headers[j])] = cell
				}
			}
			rows[i] = rowMap
		}
		_ = f.Print(rows)
		return
	}

	table := tablewriter.NewWriter(f.Writer)
	if !f.NoHeaders && len(data.Headers) > 0 {
		table.SetHeader(data.Headers)
	}

	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	table.AppendBulk(data.Rows)
	table.Render()
}

// PrintSuccess prints a success message
func (f *Formatter) PrintSuccess(message string) {
	if f.Quiet {
		return
	}
	_, _ = fmt.Fprintln(f.Writer, message)
}

// PrintWarning prints a warning message to the error stream
func (f *Formatter) PrintWarning(message string) {
	if f.Quiet {
		return
	}
	_, _ = fmt.Fprintln(f.ErrWriter, "Warning:", message)
}

// PrintKeyValue prints a key-value pair
func (f *Formatter) PrintKeyValue(key, value string) {
	if f.Quiet {
		return
	}

	switch f.Format {
	case FormatJSON:
		_ = f.printJSON(map[string]string{key: value})
	case FormatYAML:
		_ = f.printYAML(map[string]string{key: value})
	default:
		_, _ = fmt.Fprintf(f.Writer, "%s: %s\n", key, value)
	}
}
