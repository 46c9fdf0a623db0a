package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// TableFormatter renders a report as an ASCII table.
type TableFormatter struct{}

// FormatReport renders the usage rows as a table.
func (f *TableFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Credential", "Hash", "Requests", "Errors", "Last Used", "Last Error"})

	for _, row := range report.Rows {
		t.AppendRow(table.Row{
			row.Credential,
			shortHash(row.Hash),
			row.UsageCount,
			row.ErrorCount,
			formatWhen(row.LastUsed),
			errorNotes(row),
		})
	}

	if len(report.Rows) > 0 {
		requests, errors := report.totals()
		t.AppendFooter(table.Row{
			fmt.Sprintf("%d credentials", len(report.Rows)),
			"",
			requests,
			errors,
			"",
			"",
		})
	}

	return t.Render(), nil
}
