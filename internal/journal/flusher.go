package journal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/credential"
	"github.com/pressgate/pressgate/internal/observability"
)

const defaultFlushInterval = 60 * time.Second

// Flusher periodically writes a pool snapshot into the journal. It is the
// only background goroutine the gateway runs; a failed flush is logged and
// retried on the next tick, never surfaced to request handling.
type Flusher struct {
	journal  *Journal
	snapshot func() []credential.Usage
	interval time.Duration
	clock    func() time.Time
}

// NewFlusher wires a journal to a snapshot source, typically
// pool.UsageSnapshot.
func NewFlusher(journal *Journal, snapshot func() []credential.Usage, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Flusher{
		journal:  journal,
		snapshot: snapshot,
		interval: interval,
		clock:    time.Now,
	}
}

// Run flushes on every tick until the context is cancelled, then performs
// one final flush so shutdown never loses the latest counters.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The run context is gone; give the final flush its own bound.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			f.flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			f.flush(ctx)
		}
	}
}

// Flush writes the current snapshot immediately.
func (f *Flusher) Flush(ctx context.Context) error {
	return f.journal.Upsert(ctx, f.snapshot(), f.clock())
}

func (f *Flusher) flush(ctx context.Context) {
	if err := f.Flush(ctx); err != nil {
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Usage journal flush failed", zap.Error(err))
		}
	}
}
