package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"acero-store/internal/observability"
)

type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue runs fire-and-forget work (verification mail, audit writes) on a
// fixed set of workers. Submit never blocks the caller.
type Queue struct {
	jobs      chan Job
	timeout   time.Duration
	logger    *observability.Logger
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	mu        sync.RWMutex
	dropped   atomic.Uint64
}

func NewQueue(workers, size int, timeout time.Duration, logger *observability.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	q := &Queue{
		jobs:    make(chan Job, size),
		timeout: timeout,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Submit enqueues a job and reports whether it was accepted.
func (q *Queue) Submit(job Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed.Load() {
		q.logger.Warn("job_rejected_closed", map[string]any{"job": job.Name})
		return false
	}

	select {
	case q.jobs <- job:
		return true
	default:
		q.dropped.Add(1)
		q.logger.Error("job_queue_full", map[string]any{"job": job.Name})
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed.Store(true)
		close(q.jobs)
		q.mu.Unlock()
		q.wg.Wait()
	})
}

func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue) work() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(job)
	}
}

func (q *Queue) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("job %s panicked: %v", job.Name, rec)
			sentry.CaptureException(err)
			q.logger.Error("job_panic", map[string]any{"job": job.Name, "panic": rec})
		}
	}()

	if err := job.Run(ctx); err != nil {
		sentry.CaptureException(err)
		q.logger.Error("job_failed", map[string]any{"job": job.Name, "error": err})
	}
}
