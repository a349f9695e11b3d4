package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/nearbyplaces/internal/infrastructure/observability"
)

// DefaultSweepInterval is how often idle sessions are evicted.
const DefaultSweepInterval = time.Minute

// SessionSweeper periodically evicts idle sessions from a SessionStore.
type SessionSweeper struct {
	store    *SessionStore
	interval time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSessionSweeper creates a sweeper; a non-positive interval uses DefaultSweepInterval.
func NewSessionSweeper(store *SessionStore, interval time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *SessionSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &SessionSweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start begins sweeping in the background. Calling Start twice is a no-op.
func (w *SessionSweeper) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(sweepCtx)
}

// Stop halts the sweeper and waits for the background goroutine to exit.
func (w *SessionSweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
}

// SweepOnce evicts idle sessions now and returns how many were removed.
func (w *SessionSweeper) SweepOnce(ctx context.Context) int {
	start := time.Now()
	removed := w.store.EvictIdle(w.store.now(), w.store.TTL())
	observability.RecordEvictions(ctx, w.metrics, removed)

	if removed > 0 {
		w.logger.Info().
			Int("removed", removed).
			Int("remaining", w.store.Len()).
			Dur("duration", time.Since(start)).
			Msg("evicted idle sessions")
	}
	return removed
}

func (w *SessionSweeper) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		close(w.done)
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("session sweeper stopping")
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}
