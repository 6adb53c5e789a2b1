package matching

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Pool runs a fixed number of workers matching queued documents.
type Pool struct {
	queue   Queue
	engine  *Engine
	workers int
	backoff time.Duration
}

// NewPool creates a pool of workers consuming queue.
func NewPool(queue Queue, engine *Engine, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{queue: queue, engine: engine, workers: workers, backoff: time.Second}
}

// Run blocks until ctx is cancelled or the queue is closed, then waits for
// in-flight matches to finish.
func (p *Pool) Run(ctx context.Context) {
	slog.Info("Match workers starting", "workers", p.workers)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()

	slog.Info("Match workers stopped")
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("Dequeue failed", "error", err, "worker", id)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
			continue
		}

		if _, err := p.engine.Match(ctx, job.TenantID, job.DocumentID); err != nil {
			slog.Error("Match failed", "error", err, "worker", id,
				"tenant_id", job.TenantID, "document_id", job.DocumentID)
		}
	}
}
