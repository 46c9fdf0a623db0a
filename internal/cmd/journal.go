package cmd

import (
	"context"
	"fmt"

	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/journal"
)

// openJournal opens the configured usage journal for the admin commands.
// The journal.enabled flag only gates the serve-time flusher; the CLI reads
// and resets whatever journal the config points at.
func openJournal(ctx context.Context) (*journal.Journal, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	j, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return nil, err
	}

	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return nil, err
	}

	return j, nil
}
