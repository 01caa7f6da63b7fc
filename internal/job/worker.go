package job

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Processor runs the extraction for a claimed job.
type Processor interface {
	Process(ctx context.Context, j *Job) error
}

// WorkerPool is the task runner behind Start: a fixed number of goroutines
// that claim pending jobs (pending → in_progress) and hand them to a
// Processor.
type WorkerPool struct {
	repo         Repository
	processor    Processor
	workers      int
	notify       chan struct{}
	pollInterval time.Duration
	now          func() time.Time
}

func NewWorkerPool(repo Repository, processor Processor, workers int, opts ...PoolOption) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	wp := &WorkerPool{
		repo:         repo,
		processor:    processor,
		workers:      workers,
		notify:       make(chan struct{}, 1),
		pollInterval: 5 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(wp)
	}
	return wp
}

type PoolOption func(*WorkerPool)

// WithPollInterval sets how often idle workers look for pending jobs
// without being notified.
func WithPollInterval(d time.Duration) PoolOption {
	return func(wp *WorkerPool) { wp.pollInterval = d }
}

// Notify wakes idle workers to check for pending jobs. Non-blocking.
func (wp *WorkerPool) Notify() {
	select {
	case wp.notify <- struct{}{}:
	default:
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has returned.
func (wp *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range wp.workers {
		wg.Go(func() { wp.loop(ctx, i) })
	}
	wg.Wait()
}

func (wp *WorkerPool) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		wp.drain(ctx, id)

		select {
		case <-ctx.Done():
			return
		case <-wp.notify:
		case <-ticker.C:
		}
	}
}

func (wp *WorkerPool) drain(ctx context.Context, id int) {
	for ctx.Err() == nil {
		j, err := wp.repo.ClaimPending(ctx, wp.now())
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("worker: claim pending", "worker", id, "error", err)
			}
			return
		}
		if j == nil {
			return
		}

		slog.Debug("worker: processing job", "worker", id, "job", j.ID)
		if err := wp.processor.Process(ctx, j); err != nil {
			slog.Error("worker: process job", "worker", id, "job", j.ID, "error", err)
		}
	}
}
