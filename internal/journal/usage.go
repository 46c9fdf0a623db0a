package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressgate/pressgate/internal/credential"
)

// Entry is one persisted usage row. Counters are absolute values from the
// most recent flush; UpdatedAt tells how fresh they are.
type Entry struct {
	Hash             string
	Mask             string
	UsageCount       int64
	ErrorCount       int64
	LastUsed         *time.Time
	LastErrorAt      *time.Time
	LastErrorMessage string
	LastErrorCode    string
	UpdatedAt        time.Time
}

// Query selects journal rows for listing or resetting. Exactly one of the
// selectors is expected; All wins when set.
type Query struct {
	All    bool
	Hash   string
	Prefix string
}

func (q Query) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Hash) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --hash, or --prefix")
}

func (q Query) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if hash := strings.TrimSpace(q.Hash); hash != "" {
		return "WHERE credential_hash = ?", []any{hash}, nil
	}
	prefix := strings.TrimSpace(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	// The prefix matches the human-readable mask, not the hash. It is a
	// literal, so LIKE metacharacters in it must not act as wildcards.
	return `WHERE credential_mask LIKE ? ESCAPE '\'`, []any{escapeLike(prefix) + "%"}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Upsert writes a pool snapshot into the journal. Each row overwrites the
// previous flush for the same credential; rows for credentials that have
// left the pool are kept untouched.
func (j *Journal) Upsert(ctx context.Context, snapshot []credential.Usage, now time.Time) error {
	if j == nil || j.DB == nil {
		return errors.New("journal is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, usage := range snapshot {
		var lastUsed sql.NullInt64
		if usage.LastUsed != nil {
			lastUsed = sql.NullInt64{Int64: usage.LastUsed.UTC().Unix(), Valid: true}
		}

		var (
			lastErrorAt      sql.NullInt64
			lastErrorMessage sql.NullString
			lastErrorCode    sql.NullString
		)
		if usage.LastError != nil {
			lastErrorAt = sql.NullInt64{Int64: usage.LastError.At.UTC().Unix(), Valid: true}
			lastErrorMessage = sql.NullString{String: usage.LastError.Message, Valid: true}
			if usage.LastError.Code != "" {
				lastErrorCode = sql.NullString{String: usage.LastError.Code, Valid: true}
			}
		}

		_, err := j.DB.ExecContext(ctx, `
			INSERT INTO credential_usage (
				credential_hash, credential_mask, usage_count, error_count,
				last_used_at, last_error_at, last_error_message, last_error_code,
				updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(credential_hash) DO UPDATE SET
				credential_mask = excluded.credential_mask,
				usage_count = excluded.usage_count,
				error_count = excluded.error_count,
				last_used_at = excluded.last_used_at,
				last_error_at = excluded.last_error_at,
				last_error_message = excluded.last_error_message,
				last_error_code = excluded.last_error_code,
				updated_at = excluded.updated_at
		`, usage.Hash, usage.Credential, usage.UsageCount, usage.ErrorCount,
			lastUsed, lastErrorAt, lastErrorMessage, lastErrorCode, now.UTC().Unix())
		if err != nil {
			return fmt.Errorf("journal usage for %s: %w", usage.Credential, err)
		}
	}

	return nil
}

// List returns journal rows matching the query, busiest first.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	if j == nil || j.DB == nil {
		return nil, errors.New("journal is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := j.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT credential_hash, credential_mask, usage_count, error_count,
			last_used_at, last_error_at, last_error_message, last_error_code,
			updated_at
		FROM credential_usage
		%s
		ORDER BY usage_count DESC, credential_hash
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list usage journal: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []Entry{}
	for rows.Next() {
		var (
			entry            Entry
			lastUsed         sql.NullInt64
			lastErrorAt      sql.NullInt64
			lastErrorMessage sql.NullString
			lastErrorCode    sql.NullString
			updatedAt        int64
		)
		if err := rows.Scan(&entry.Hash, &entry.Mask, &entry.UsageCount, &entry.ErrorCount,
			&lastUsed, &lastErrorAt, &lastErrorMessage, &lastErrorCode, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan usage journal: %w", err)
		}

		if lastUsed.Valid {
			value := time.Unix(lastUsed.Int64, 0).UTC()
			entry.LastUsed = &value
		}
		if lastErrorAt.Valid {
			value := time.Unix(lastErrorAt.Int64, 0).UTC()
			entry.LastErrorAt = &value
		}
		if lastErrorMessage.Valid {
			entry.LastErrorMessage = lastErrorMessage.String
		}
		if lastErrorCode.Valid {
			entry.LastErrorCode = lastErrorCode.String
		}
		entry.UpdatedAt = time.Unix(updatedAt, 0).UTC()

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list usage journal: %w", err)
	}

	return entries, nil
}

// Count returns the number of journal rows matching the query.
func (j *Journal) Count(ctx context.Context, q Query) (int, error) {
	if j == nil || j.DB == nil {
		return 0, errors.New("journal is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	row := j.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM credential_usage
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count usage journal: %w", err)
	}
	return count, nil
}

// Reset deletes journal rows matching the query and reports how many went.
func (j *Journal) Reset(ctx context.Context, q Query) (int64, error) {
	if j == nil || j.DB == nil {
		return 0, errors.New("journal is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := j.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM credential_usage
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset usage journal: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset usage journal: %w", err)
	}
	return affected, nil
}
