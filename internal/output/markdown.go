package output

import (
	"fmt"
	"strings"
)

// MarkdownFormatter renders a report as a markdown table.
type MarkdownFormatter struct{}

// FormatReport renders the usage rows as Markdown.
func (f *MarkdownFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}

	title := strings.TrimSpace(report.Title)
	if title == "" {
		title = "Credential usage"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(title)))
	sb.WriteString("| Credential | Hash | Requests | Errors | Last Used | Last Error |\n")
	sb.WriteString("|------------|------|----------|--------|-----------|------------|\n")

	for _, row := range report.Rows {
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %s | %s |\n",
			escapeMarkdownCell(row.Credential),
			escapeMarkdownCell(shortHash(row.Hash)),
			row.UsageCount,
			row.ErrorCount,
			escapeMarkdownCell(formatWhen(row.LastUsed)),
			escapeMarkdownCell(errorNotes(row)),
		))
	}

	if len(report.Rows) > 0 {
		requests, errors := report.totals()
		sb.WriteString(fmt.Sprintf("\n**Totals**: %d credentials, %d requests, %d errors\n",
			len(report.Rows), requests, errors))
	}

	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
