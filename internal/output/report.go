package output

import (
	"strings"
	"time"

	"github.com/pressgate/pressgate/internal/credential"
	"github.com/pressgate/pressgate/internal/journal"
)

// Row is one credential's usage line. Credential is always the masked form;
// the raw secret never reaches this package.
type Row struct {
	Credential string     `json:"credential"`
	Hash       string     `json:"hash"`
	UsageCount int64      `json:"usage_count"`
	ErrorCount int64      `json:"error_count"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCode  string     `json:"last_error_code,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// Report is the row set a formatter renders, plus the heading markdown uses.
type Report struct {
	Title string `json:"title,omitempty"`
	Rows  []Row  `json:"credentials"`
}

func (r *Report) totals() (requests, errors int64) {
	if r == nil {
		return 0, 0
	}
	for _, row := range r.Rows {
		requests += row.UsageCount
		errors += row.ErrorCount
	}
	return requests, errors
}

// ReportFromJournal converts persisted journal entries into a report.
func ReportFromJournal(entries []journal.Entry) *Report {
	rows := make([]Row, 0, len(entries))
	for _, entry := range entries {
		row := Row{
			Credential: entry.Mask,
			Hash:       entry.Hash,
			UsageCount: entry.UsageCount,
			ErrorCount: entry.ErrorCount,
			LastUsed:   entry.LastUsed,
			LastError:  entry.LastErrorMessage,
			ErrorCode:  entry.LastErrorCode,
		}
		if !entry.UpdatedAt.IsZero() {
			updated := entry.UpdatedAt
			row.UpdatedAt = &updated
		}
		rows = append(rows, row)
	}
	return &Report{Title: "Credential usage", Rows: rows}
}

// ReportFromSnapshot converts a live pool snapshot into a report.
func ReportFromSnapshot(usages []credential.Usage) *Report {
	rows := make([]Row, 0, len(usages))
	for _, usage := range usages {
		row := Row{
			Credential: usage.Credential,
			Hash:       usage.Hash,
			UsageCount: usage.UsageCount,
			ErrorCount: usage.ErrorCount,
			LastUsed:   usage.LastUsed,
		}
		if usage.LastError != nil {
			row.LastError = usage.LastError.Message
			row.ErrorCode = usage.LastError.Code
		}
		rows = append(rows, row)
	}
	return &Report{Title: "Credential pool", Rows: rows}
}

// shortHash trims a credential hash to the prefix shown in tables. The full
// hash stays available through the JSON format.
func shortHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}

func formatWhen(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func errorNotes(row Row) string {
	message := strings.TrimSpace(row.LastError)
	if message == "" {
		return "-"
	}
	if code := strings.TrimSpace(row.ErrorCode); code != "" {
		return message + " (" + code + ")"
	}
	return message
}
