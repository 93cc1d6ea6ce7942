package worker

import (
	"context"
	"time"

	"github.com/tavari/mail-engine/internal/pkg/logger"
	"github.com/tavari/mail-engine/internal/service/campaign"
)

const (
	// DefaultRecoveryInterval is how often we scan for stuck tasks.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a task can sit in processing before we
	// consider its worker dead.
	DefaultStaleAge = 5 * time.Minute
)

// QueueRecoveryWorker periodically reclaims tasks stuck in processing.
// If a dispatcher crashes mid-attempt, its claimed tasks would otherwise
// stay in processing forever and the campaign would never complete.
type QueueRecoveryWorker struct {
	store      campaign.QueueStore
	interval   time.Duration
	staleAge   time.Duration
	maxRetries int
}

// NewQueueRecoveryWorker creates a recovery worker with default timing.
func NewQueueRecoveryWorker(store campaign.QueueStore, maxRetries int) *QueueRecoveryWorker {
	return &QueueRecoveryWorker{
		store:      store,
		interval:   DefaultRecoveryInterval,
		staleAge:   DefaultStaleAge,
		maxRetries: maxRetries,
	}
}

// NewQueueRecoveryWorkerWithConfig creates a recovery worker with custom timing.
func NewQueueRecoveryWorkerWithConfig(store campaign.QueueStore, maxRetries int, interval, staleAge time.Duration) *QueueRecoveryWorker {
	w := NewQueueRecoveryWorker(store, maxRetries)
	if interval > 0 {
		w.interval = interval
	}
	if staleAge > 0 {
		w.staleAge = staleAge
	}
	return w
}

// Start runs the recovery loop. Blocks until ctx is cancelled.
func (w *QueueRecoveryWorker) Start(ctx context.Context) {
	logger.Info("queue recovery starting",
		"interval", w.interval.String(), "stale_age", w.staleAge.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *QueueRecoveryWorker) runOnce(ctx context.Context) {
	n, err := w.store.ReclaimStale(ctx, w.staleAge, w.maxRetries)
	if err != nil {
		logger.Error("reclaim stale tasks", "error", err)
		return
	}
	if n > 0 {
		logger.Warn("reclaimed stuck tasks", "count", n)
	}
}
