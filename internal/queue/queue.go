// Package queue provides a concurrency-bounded job queue with
// retry, backoff and cooperative cancellation, one queue per
// resource class.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prism/atelier/internal/logging"
)

// Job is a single unit of asynchronous work: one provider call,
// one outcome. The job must observe ctx and return promptly once
// it is cancelled.
type Job func(ctx context.Context) error

// Queue admits jobs up to a fixed concurrency limit and parks the
// rest in a FIFO wait list. Failed jobs are retried with doubling
// backoff unless the failure is a quota condition or a cancellation.
type Queue struct {
	// MaxRetries is the number of additional attempts after the
	// first failure. Set before first Submit.
	MaxRetries int

	// BaseDelay is the wait before the first retry; it doubles on
	// each subsequent attempt. Set before first Submit.
	BaseDelay time.Duration

	name          string
	maxConcurrent int
	log           *logging.Logger

	mu      sync.Mutex
	active  int
	waiters []chan struct{}
}

// New creates a queue for one resource class bounded at maxConcurrent
// running jobs. Retry policy defaults to 3 extra attempts starting
// at 1s.
func New(name string, maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		name:          name,
		maxConcurrent: maxConcurrent,
		log:           logging.New("queue").WithClass(name),
	}
}

// Submit runs job within the queue's concurrency bound, blocking the
// calling goroutine until the job reaches an outcome. onAdmitted
// fires exactly once, synchronously with the start of execution (not
// at enqueue time) — callers use it to flip task status from queued
// to generating.
//
// A cancellation, whether it strikes while the job is still waiting
// for a slot or while it is running, surfaces as ErrCancelled and is
// never retried.
func (q *Queue) Submit(ctx context.Context, job Job, onAdmitted func()) error {
	if err := q.acquire(ctx); err != nil {
		return err
	}
	defer q.release()

	if onAdmitted != nil {
		onAdmitted()
	}
	return q.runWithRetry(ctx, job)
}

// Active returns the number of currently running jobs.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Waiting returns the number of jobs parked in the wait list.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// acquire claims a running slot, parking in FIFO order when the
// queue is saturated.
func (q *Queue) acquire(ctx context.Context) error {
	q.mu.Lock()
	if q.active < q.maxConcurrent {
		q.active++
		q.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	q.waiters = append(q.waiters, ready)
	waiting := len(q.waiters)
	q.mu.Unlock()

	q.log.Debug("job_queued", map[string]interface{}{"waiting": waiting})

	select {
	case <-ready:
		// Slot handed over by release; active count already carries it.
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		removed := false
		for i, w := range q.waiters {
			if w == ready {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				removed = true
				break
			}
		}
		q.mu.Unlock()
		if !removed {
			// The slot was handed to us in the same instant; give it back.
			q.release()
		}
		return fmt.Errorf("%w while queued: %v", ErrCancelled, ctx.Err())
	}
}

// release frees a slot, preferring to hand it directly to the oldest
// waiter so FIFO admission order holds.
func (q *Queue) release() {
	q.mu.Lock()
	if len(q.waiters) > 0 {
		ready := q.waiters[0]
		q.waiters = q.waiters[1:]
		q.mu.Unlock()
		close(ready)
		return
	}
	q.active--
	q.mu.Unlock()
}

// runWithRetry executes job up to 1+MaxRetries times. Quota failures
// and cancellations short-circuit; everything else backs off with
// doubling delay between attempts.
func (q *Queue) runWithRetry(ctx context.Context, job Job) error {
	var lastErr error
	delay := q.BaseDelay

	for attempt := 0; attempt <= q.MaxRetries; attempt++ {
		if attempt > 0 {
			q.log.Warn("job_retrying", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
			}, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w during backoff: %v", ErrCancelled, ctx.Err())
			}
			delay *= 2
		}

		lastErr = job(ctx)
		if lastErr == nil {
			return nil
		}

		switch Classify(lastErr) {
		case KindCancelled:
			return fmt.Errorf("%w: %v", ErrCancelled, lastErr)
		case KindQuota:
			// Retrying a quota failure is certain to fail again
			// within the same window; surface it now.
			q.log.Warn("job_quota_exhausted", nil, lastErr)
			return fmt.Errorf("quota exhausted: %v", lastErr)
		}
	}

	q.log.Error("job_failed", map[string]interface{}{"attempts": q.MaxRetries + 1}, lastErr)
	return fmt.Errorf("generation failed after %d attempts: %v", q.MaxRetries+1, lastErr)
}
