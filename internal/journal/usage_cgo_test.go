//go:build cgo

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/credential"
)

func openMemoryJournal(t *testing.T) *Journal {
	t.Helper()
	ctx := context.Background()
	cfg := config.JournalConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	journal, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, "libsql", journal.Driver())
	require.NoError(t, journal.Migrate(ctx))
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestUsageJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	journal := openMemoryJournal(t)

	pool := credential.NewPool()
	pool.AddCredentials("alpha-key-12345,beta-key-678901")

	first := pool.Next()
	pool.Next()
	pool.Next()
	pool.RecordError(first.Value, "quota exhausted", "RESOURCE_EXHAUSTED")

	now := time.Now().UTC()
	require.NoError(t, journal.Upsert(ctx, pool.UsageSnapshot(), now))

	entries, err := journal.List(ctx, Query{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Busiest credential first.
	busiest := entries[0]
	require.Equal(t, "alph...2345", busiest.Mask)
	require.Equal(t, int64(2), busiest.UsageCount)
	require.Equal(t, int64(1), busiest.ErrorCount)
	require.NotNil(t, busiest.LastUsed)
	require.NotNil(t, busiest.LastErrorAt)
	require.Equal(t, "quota exhausted", busiest.LastErrorMessage)
	require.Equal(t, "RESOURCE_EXHAUSTED", busiest.LastErrorCode)
	require.Equal(t, now.Unix(), busiest.UpdatedAt.Unix())

	require.Equal(t, "beta...8901", entries[1].Mask)
	require.Equal(t, int64(1), entries[1].UsageCount)
	require.Zero(t, entries[1].ErrorCount)
	require.Empty(t, entries[1].LastErrorCode)

	count, err := journal.Count(ctx, Query{All: true})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	byHash, err := journal.List(ctx, Query{Hash: busiest.Hash})
	require.NoError(t, err)
	require.Len(t, byHash, 1)
	require.Equal(t, busiest.Mask, byHash[0].Mask)

	byPrefix, err := journal.List(ctx, Query{Prefix: "beta"})
	require.NoError(t, err)
	require.Len(t, byPrefix, 1)
	require.Equal(t, "beta...8901", byPrefix[0].Mask)
}

func TestUsageJournalUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	journal := openMemoryJournal(t)

	pool := credential.NewPool()
	pool.AddCredentials("alpha-key-12345")

	pool.Next()
	require.NoError(t, journal.Upsert(ctx, pool.UsageSnapshot(), time.Now().UTC()))

	pool.Next()
	pool.Next()
	require.NoError(t, journal.Upsert(ctx, pool.UsageSnapshot(), time.Now().UTC()))

	entries, err := journal.List(ctx, Query{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(3), entries[0].UsageCount)
}

func TestUsageJournalReset(t *testing.T) {
	ctx := context.Background()
	journal := openMemoryJournal(t)

	pool := credential.NewPool()
	pool.AddCredentials("alpha-key-12345,beta-key-678901")
	pool.Next()
	pool.Next()
	require.NoError(t, journal.Upsert(ctx, pool.UsageSnapshot(), time.Now().UTC()))

	affected, err := journal.Reset(ctx, Query{Prefix: "beta"})
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	count, err := journal.Count(ctx, Query{All: true})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	affected, err = journal.Reset(ctx, Query{All: true})
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	_, err = journal.Reset(ctx, Query{})
	require.Error(t, err)
}

func TestFlusherFinalFlushOnShutdown(t *testing.T) {
	journal := openMemoryJournal(t)

	pool := credential.NewPool()
	pool.AddCredentials("alpha-key-12345")
	pool.Next()

	// A long interval keeps the ticker silent; only the shutdown flush runs.
	flusher := NewFlusher(journal, pool.UsageSnapshot, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		flusher.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	entries, err := journal.List(context.Background(), Query{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].UsageCount)
}
