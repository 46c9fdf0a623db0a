package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS credential_usage (
		credential_hash TEXT PRIMARY KEY,
		credential_mask TEXT NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		last_used_at INTEGER,
		last_error_at INTEGER,
		last_error_message TEXT,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_credential_usage_updated ON credential_usage(updated_at);`,
}

// Migrate creates the usage table when absent and backfills columns added
// after the first release.
func (j *Journal) Migrate(ctx context.Context) error {
	if j == nil || j.DB == nil {
		return errors.New("journal is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := j.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("journal migration failed: %w", err)
		}
	}

	return j.ensureColumn(ctx, "credential_usage", "last_error_code", "TEXT")
}

func (j *Journal) ensureColumn(ctx context.Context, table, column, columnDef string) error {
	exists, err := j.columnExists(ctx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if _, err := j.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}
	return nil
}

func (j *Journal) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := j.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
