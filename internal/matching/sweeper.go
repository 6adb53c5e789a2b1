package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mmynk/payables/internal/storage"
)

// sweepBatch caps the documents re-queued per run.
const sweepBatch = 500

// Sweeper periodically re-queues documents left in processing, for example
// after a restart dropped the in-process queue.
type Sweeper struct {
	store      storage.Store
	queue      Queue
	staleAfter time.Duration
	now        func() time.Time
	cron       *cron.Cron
}

// NewSweeper creates a sweeper for documents processing longer than
// staleAfter.
func NewSweeper(store storage.Store, queue Queue, staleAfter time.Duration) *Sweeper {
	return &Sweeper{store: store, queue: queue, staleAfter: staleAfter, now: time.Now}
}

// Sweep re-queues stale documents of every tenant and returns how many were
// queued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	before := s.now().Add(-s.staleAfter).Unix()
	docs, err := s.store.ListStaleDocuments(ctx, before, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale documents: %w", err)
	}

	queued := 0
	for _, d := range docs {
		if err := s.queue.Enqueue(ctx, Job{TenantID: d.TenantID, DocumentID: d.ID}); err != nil {
			return queued, fmt.Errorf("failed to re-queue document %s: %w", d.ID, err)
		}
		queued++
	}
	return queued, nil
}

// Start runs Sweep on the cron schedule, e.g. "@every 5m".
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := s.Sweep(context.Background())
		if err != nil {
			slog.Error("Sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Stale documents re-queued", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
