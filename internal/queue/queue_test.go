package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastQueue returns a queue with millisecond backoff so retry tests
// do not sleep for real.
func fastQueue(name string, maxConcurrent int) *Queue {
	q := New(name, maxConcurrent)
	q.BaseDelay = 10 * time.Millisecond
	return q
}

func TestSubmitRunsImmediatelyWhenIdle(t *testing.T) {
	q := fastQueue("image", 4)

	admitted := false
	var ran int32
	err := q.Submit(context.Background(), func(ctx context.Context) error {
		// onAdmitted must have fired before the job body runs.
		assert.True(t, admitted)
		atomic.AddInt32(&ran, 1)
		return nil
	}, func() { admitted = true })

	require.NoError(t, err)
	assert.EqualValues(t, 1, ran)
	assert.Equal(t, 0, q.Active())
}

func TestConcurrencyNeverExceedsBound(t *testing.T) {
	const bound = 4
	const jobs = 12
	q := fastQueue("image", bound)

	var current, peak int32
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Submit(context.Background(), func(ctx context.Context) error {
				c := atomic.AddInt32(&current, 1)
				mu.Lock()
				if c > peak {
					peak = c
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			}, nil)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, int32(bound), "active concurrency exceeded the bound")
	assert.Equal(t, 0, q.Active())
	assert.Equal(t, 0, q.Waiting())
}

func TestFifthJobWaitsForSlot(t *testing.T) {
	q := fastQueue("image", 4)

	release := make(chan struct{})
	started := make(chan struct{}, 5)
	var fifthStarted int32

	// Fill all 4 slots.
	for i := 0; i < 4; i++ {
		go func() {
			_ = q.Submit(context.Background(), func(ctx context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			}, nil)
		}()
	}
	for i := 0; i < 4; i++ {
		<-started
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Submit(context.Background(), func(ctx context.Context) error {
			atomic.StoreInt32(&fifthStarted, 1)
			return nil
		}, nil)
	}()

	// Give the fifth submission time to park.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&fifthStarted), "fifth job ran while pool was full")
	assert.Equal(t, 1, q.Waiting())

	close(release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fifthStarted))
}

func TestOnAdmittedFiresAtExecutionNotEnqueue(t *testing.T) {
	q := fastQueue("video", 1)

	release := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_ = q.Submit(context.Background(), func(ctx context.Context) error {
			close(running)
			<-release
			return nil
		}, nil)
	}()
	<-running

	var admittedAt int32
	done := make(chan struct{})
	go func() {
		_ = q.Submit(context.Background(), func(ctx context.Context) error {
			return nil
		}, func() { atomic.StoreInt32(&admittedAt, 1) })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&admittedAt), "onAdmitted fired while job was still queued")

	close(release)
	<-done
	assert.EqualValues(t, 1, atomic.LoadInt32(&admittedAt))
}

func TestRetryBackoffThenSuccess(t *testing.T) {
	q := fastQueue("image", 4)

	var invocations int32
	var stamps []time.Time
	err := q.Submit(context.Background(), func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		n := atomic.AddInt32(&invocations, 1)
		if n < 3 {
			return fmt.Errorf("provider overloaded")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	require.EqualValues(t, 3, invocations)

	// Delays double: ~base, ~2*base.
	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	assert.GreaterOrEqual(t, first, q.BaseDelay)
	assert.GreaterOrEqual(t, second, 2*q.BaseDelay)
	assert.Greater(t, second, first)
}

func TestRetriesExhausted(t *testing.T) {
	q := fastQueue("image", 4)
	q.MaxRetries = 2

	var invocations int32
	err := q.Submit(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&invocations, 1)
		return errors.New("connection reset")
	}, nil)

	require.Error(t, err)
	assert.EqualValues(t, 3, invocations, "expected first attempt plus 2 retries")
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.False(t, IsCancelled(err))
}

func TestQuotaErrorNotRetried(t *testing.T) {
	q := fastQueue("video", 1)

	var invocations int32
	err := q.Submit(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&invocations, 1)
		return errors.New("rpc error: code 429: Quota exceeded for quota metric")
	}, nil)

	require.Error(t, err)
	assert.EqualValues(t, 1, invocations, "quota failures must not be retried")
	assert.Contains(t, err.Error(), "quota")
}

func TestCancelWhileQueuedNeverStartsJob(t *testing.T) {
	q := fastQueue("video", 1)

	release := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_ = q.Submit(context.Background(), func(ctx context.Context) error {
			close(running)
			<-release
			return nil
		}, nil)
	}()
	<-running

	ctx, cancel := context.WithCancel(context.Background())
	var ran int32
	done := make(chan error, 1)
	go func() {
		done <- q.Submit(ctx, func(ctx context.Context) error {
			atomic.StoreInt32(&ran, 1)
			return nil
		}, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, IsCancelled(err), "expected cancelled outcome, got %v", err)
	assert.EqualValues(t, 0, atomic.LoadInt32(&ran), "cancelled queued job must never start")

	close(release)
}

func TestCancelWhileRunningIsNotRetried(t *testing.T) {
	q := fastQueue("image", 4)

	ctx, cancel := context.WithCancel(context.Background())
	var invocations int32
	done := make(chan error, 1)
	go func() {
		done <- q.Submit(ctx, func(ctx context.Context) error {
			atomic.AddInt32(&invocations, 1)
			<-ctx.Done()
			return ctx.Err()
		}, nil)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, IsCancelled(err))
	assert.EqualValues(t, 1, invocations, "cancellation must not be treated as a retryable failure")
	assert.Equal(t, 0, q.Active(), "cancelled job must release its slot")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"network blip", errors.New("connection reset by peer"), KindTransient},
		{"server error", errors.New("500 internal error"), KindTransient},
		{"http 429", errors.New("googleapi: Error 429: Resource exhausted"), KindQuota},
		{"quota text", errors.New("Quota exceeded for requests"), KindQuota},
		{"lowercase quota", errors.New("insufficient quota remaining"), KindQuota},
		{"context canceled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindCancelled},
		{"wrapped cancel", fmt.Errorf("call aborted: %w", context.Canceled), KindCancelled},
		{"sentinel", ErrCancelled, KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
