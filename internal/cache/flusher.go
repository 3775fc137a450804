package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultFlushInterval is how often the Flusher persists pending changes.
const DefaultFlushInterval = 10 * time.Second

// finalFlushTimeout bounds the flush performed when the Flusher stops.
const finalFlushTimeout = 5 * time.Second

// Flusher persists a Store in the background so an ungraceful exit loses at most
// one interval of user messages.
type Flusher struct {
	store    *Store
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// NewFlusher creates a Flusher. A nil clock uses the wall clock.
func NewFlusher(s *Store, interval time.Duration, clk clock.Clock) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Flusher{store: s, interval: interval, clock: clk, logger: s.logger}
}

// Run persists pending changes every interval until ctx is done, then performs
// a final flush before returning.
func (f *Flusher) Run(ctx context.Context) {
	ticker := f.clock.Ticker(f.interval)
	defer ticker.Stop()
	f.logger.Debug("Cache flusher started", "interval", f.interval)

	for {
		select {
		case <-ticker.C:
			if err := f.store.PersistIfDirty(ctx); err != nil {
				f.logger.Warn("Periodic cache flush failed", "error", err)
			}
		case <-ctx.Done():
			f.flushNow("shutdown")
			f.logger.Debug("Cache flusher stopped", "reason", ctx.Err())
			return
		}
	}
}

// Hidden flushes immediately. Call it when the presentation is hidden or detached.
func (f *Flusher) Hidden() {
	f.flushNow("hidden")
}

func (f *Flusher) flushNow(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if err := f.store.PersistIfDirty(ctx); err != nil {
		f.logger.Warn("Cache flush failed", "reason", reason, "error", err)
	}
}
