package output

import (
	"fmt"
	"strings"
)

// Format selects how a usage report is rendered.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders usage reports.
type Formatter interface {
	FormatReport(report *Report) (string, error)
}

// ParseFormat normalizes a format flag value. Empty means table.
func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatMarkdown:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns the formatter for a format, table when unknown.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	}
	return &TableFormatter{}
}

// Render is the one-shot helper the commands use.
func Render(format Format, report *Report) (string, error) {
	return NewFormatter(format).FormatReport(report)
}
