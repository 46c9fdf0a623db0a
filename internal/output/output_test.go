package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pressgate/pressgate/internal/credential"
	"github.com/pressgate/pressgate/internal/journal"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func testReport() *Report {
	lastUsed := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	return &Report{
		Title: "Credential usage",
		Rows: []Row{
			{
				Credential: "alph...2345",
				Hash:       "0123456789abcdef0123456789abcdef",
				UsageCount: 17,
				ErrorCount: 2,
				LastUsed:   &lastUsed,
				LastError:  "quota exhausted",
				ErrorCode:  "RESOURCE_EXHAUSTED",
			},
			{
				Credential: "beta...8901",
				Hash:       "fedcba9876543210fedcba9876543210",
				UsageCount: 5,
			},
		},
	}
}

func TestFormatters(t *testing.T) {
	report := testReport()

	tableRendered, err := NewFormatter(FormatTable).FormatReport(report)
	require.NoError(t, err)
	require.Contains(t, tableRendered, "CREDENTIAL")
	require.Contains(t, tableRendered, "alph...2345")
	require.Contains(t, tableRendered, "01234567")
	require.NotContains(t, tableRendered, "0123456789abcdef0123456789abcdef")
	require.Contains(t, tableRendered, "quota exhausted (RESOURCE_EXHAUSTED)")
	require.Contains(t, tableRendered, "2 CREDENTIALS")

	jsonRendered, err := NewFormatter(FormatJSON).FormatReport(report)
	require.NoError(t, err)
	require.Contains(t, jsonRendered, "\"credential\": \"alph...2345\"")
	require.Contains(t, jsonRendered, "\"hash\": \"0123456789abcdef0123456789abcdef\"")
	require.Contains(t, jsonRendered, "\"usage_count\": 17")

	markdownRendered, err := NewFormatter(FormatMarkdown).FormatReport(report)
	require.NoError(t, err)
	require.Contains(t, markdownRendered, "## Credential usage")
	require.Contains(t, markdownRendered, "| Credential | Hash | Requests | Errors | Last Used | Last Error |")
	require.Contains(t, markdownRendered, "2026-03-15 10:30:00")
	require.Contains(t, markdownRendered, "**Totals**: 2 credentials, 22 requests, 2 errors")
}

func TestReportFromJournal(t *testing.T) {
	lastUsed := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	entries := []journal.Entry{
		{
			Hash:             "abcdef0123456789",
			Mask:             "alph...2345",
			UsageCount:       7,
			ErrorCount:       1,
			LastUsed:         &lastUsed,
			LastErrorMessage: "quota exhausted",
			LastErrorCode:    "RESOURCE_EXHAUSTED",
			UpdatedAt:        lastUsed,
		},
	}

	report := ReportFromJournal(entries)
	require.Len(t, report.Rows, 1)
	require.Equal(t, "alph...2345", report.Rows[0].Credential)
	require.Equal(t, int64(7), report.Rows[0].UsageCount)
	require.Equal(t, "RESOURCE_EXHAUSTED", report.Rows[0].ErrorCode)
	require.NotNil(t, report.Rows[0].UpdatedAt)
	require.Equal(t, lastUsed, *report.Rows[0].UpdatedAt)
}

func TestReportFromSnapshot(t *testing.T) {
	lastUsed := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	usages := []credential.Usage{
		{
			Credential: "beta...8901",
			Hash:       "fedcba9876543210",
			UsageCount: 3,
			ErrorCount: 1,
			LastUsed:   &lastUsed,
			LastError: &credential.ErrorRecord{
				At:      lastUsed,
				Message: "upstream refused",
				Code:    "PERMISSION_DENIED",
			},
		},
	}

	report := ReportFromSnapshot(usages)
	require.Len(t, report.Rows, 1)
	require.Equal(t, "beta...8901", report.Rows[0].Credential)
	require.Equal(t, "upstream refused", report.Rows[0].LastError)
	require.Equal(t, "PERMISSION_DENIED", report.Rows[0].ErrorCode)
}

func TestErrorNotes(t *testing.T) {
	require.Equal(t, "-", errorNotes(Row{}))
	require.Equal(t, "boom", errorNotes(Row{LastError: "boom"}))
	require.Equal(t, "boom (QUOTA)", errorNotes(Row{LastError: "boom", ErrorCode: "QUOTA"}))
}

func TestFormatWhen(t *testing.T) {
	require.Equal(t, "-", formatWhen(nil))

	when := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	require.Equal(t, "2026-03-15 10:30:00", formatWhen(&when))
}

func TestMarkdownEscaping(t *testing.T) {
	report := &Report{
		Title: "pipe|test",
		Rows: []Row{
			{
				Credential: "gamm...4567",
				Hash:       "00ff00ff00ff00ff",
				LastError:  "foo|bar",
			},
		},
	}

	rendered, err := NewFormatter(FormatMarkdown).FormatReport(report)
	require.NoError(t, err)
	require.Contains(t, rendered, "pipe\\|test")
	require.Contains(t, rendered, "foo\\|bar")
}
