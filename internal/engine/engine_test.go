package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prism/atelier/internal/agent"
	"github.com/prism/atelier/internal/asset"
	"github.com/prism/atelier/internal/provider"
	"github.com/prism/atelier/internal/queue"
	"github.com/prism/atelier/internal/task"
)

func newTestEngine(t *testing.T, mock *provider.Mock) *Engine {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "atelier.db")

	tasks, err := task.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { tasks.Close() })

	assets, err := asset.NewStore(dbPath, filepath.Join(dir, "assets"))
	require.NoError(t, err)
	t.Cleanup(func() { assets.Close() })

	e := New(tasks, assets, mock, Options{PollInterval: 5 * time.Millisecond})
	t.Cleanup(e.Close)

	// Millisecond backoff keeps retry tests fast.
	e.ImageQueue().BaseDelay = time.Millisecond
	e.VideoQueue().BaseDelay = time.Millisecond
	return e
}

func TestImageTaskLifecycle(t *testing.T) {
	var statusDuringRun task.Status
	var e *Engine

	mock := &provider.Mock{
		GenerateImageFunc: func(ctx context.Context, req provider.Request) (*provider.Artifact, error) {
			// Admission flipped the durable status before the provider
			// call began.
			tasks, err := e.Tasks(ctx)
			if assert.NoError(t, err) && assert.Len(t, tasks, 1) {
				statusDuringRun = tasks[0].Status
			}
			return &provider.Artifact{MIMEType: "image/png", Data: []byte("png-bytes")}, nil
		},
	}
	e = newTestEngine(t, mock)

	id, err := e.Generate(context.Background(), task.ClassImage, provider.Request{Prompt: "a red fox"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusGenerating, statusDuringRun)

	got, err := e.Task(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.NotNil(t, got.ExecutionStartedAt)
	assert.Equal(t, "a red fox", got.Request["prompt"])

	assets, err := e.Assets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, asset.StatusReady, assets[0].Status)
	assert.NotEmpty(t, assets[0].Path)
}

func TestImageConcurrencyBound(t *testing.T) {
	const jobs = 6

	gate := make(chan struct{})
	var running, peak atomic.Int32
	mock := &provider.Mock{
		GenerateImageFunc: func(ctx context.Context, req provider.Request) (*provider.Artifact, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-gate
			running.Add(-1)
			return &provider.Artifact{MIMEType: "image/png", Data: []byte("x")}, nil
		},
	}
	e := newTestEngine(t, mock)

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Generate(context.Background(), task.ClassImage, provider.Request{Prompt: "p"})
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool {
		return running.Load() == 4 && e.QueueStats().ImageWaiting == 2
	}, 2*time.Second, 5*time.Millisecond)

	close(gate)
	wg.Wait()

	assert.Equal(t, int32(4), peak.Load())
	tasks, err := e.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, jobs)
	for _, tk := range tasks {
		assert.Equal(t, task.StatusCompleted, tk.Status)
	}
}

func TestQuotaFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	mock := &provider.Mock{
		StartVideoFunc: func(ctx context.Context, req provider.Request) (*provider.Operation, error) {
			calls.Add(1)
			return nil, errors.New("googleapi: Error 429: quota exceeded")
		},
	}
	e := newTestEngine(t, mock)

	id, err := e.Generate(context.Background(), task.ClassVideo, provider.Request{Prompt: "waves"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
	assert.Equal(t, int32(1), calls.Load())

	got, err := e.Task(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorDetail, "quota")

	a, err := e.assets.GetByTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, asset.StatusFailed, a.Status)
}

func TestTransientFailureRetriesToSuccess(t *testing.T) {
	var calls atomic.Int32
	mock := &provider.Mock{
		GenerateImageFunc: func(ctx context.Context, req provider.Request) (*provider.Artifact, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("connection reset by peer")
			}
			return &provider.Artifact{MIMEType: "image/png", Data: []byte("ok")}, nil
		},
	}
	e := newTestEngine(t, mock)

	id, err := e.Generate(context.Background(), task.ClassImage, provider.Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	got, err := e.Task(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestCancelDeletesTaskAndAssets(t *testing.T) {
	started := make(chan struct{})
	mock := &provider.Mock{
		GenerateImageFunc: func(ctx context.Context, req provider.Request) (*provider.Artifact, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	e := newTestEngine(t, mock)

	id, done, err := e.Submit(context.Background(), task.ClassImage, provider.Request{Prompt: "p"})
	require.NoError(t, err)
	<-started

	require.NoError(t, e.Cancel(id))
	err = <-done
	require.Error(t, err)
	assert.True(t, queue.IsCancelled(err))

	_, err = e.Task(context.Background(), id)
	assert.Error(t, err)
	_, err = e.assets.GetByTask(context.Background(), id)
	assert.Error(t, err)

	// The cancel handle is gone with the task.
	assert.Error(t, e.Cancel(id))
}

func TestCancelWhileQueuedNeverStarts(t *testing.T) {
	gate := make(chan struct{})
	var videoCalls atomic.Int32
	mock := &provider.Mock{
		StartVideoFunc: func(ctx context.Context, req provider.Request) (*provider.Operation, error) {
			if videoCalls.Add(1) == 1 {
				<-gate
			}
			return &provider.Operation{Name: "operations/v"}, nil
		},
	}
	e := newTestEngine(t, mock)

	// Video queue runs one at a time; the second submission parks.
	_, firstDone, err := e.Submit(context.Background(), task.ClassVideo, provider.Request{Prompt: "one"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.QueueStats().VideoActive == 1 }, time.Second, 5*time.Millisecond)

	secondID, secondDone, err := e.Submit(context.Background(), task.ClassVideo, provider.Request{Prompt: "two"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.QueueStats().VideoWaiting == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Cancel(secondID))
	err = <-secondDone
	assert.True(t, queue.IsCancelled(err))
	assert.Equal(t, int32(1), videoCalls.Load())

	close(gate)
	require.NoError(t, <-firstDone)
}

func TestVideoPollLoopResolvesOperation(t *testing.T) {
	var polls atomic.Int32
	mock := &provider.Mock{
		PollVideoFunc: func(ctx context.Context, op *provider.Operation) (*provider.Operation, error) {
			if polls.Add(1) < 3 {
				return &provider.Operation{Name: op.Name}, nil
			}
			return &provider.Operation{
				Name: op.Name,
				Done: true,
				Artifact: &provider.Artifact{
					MIMEType: "video/mp4",
					URI:      "https://example.test/video.mp4",
				},
			}, nil
		},
	}
	e := newTestEngine(t, mock)

	id, err := e.Generate(context.Background(), task.ClassVideo, provider.Request{Prompt: "waves"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))

	a, err := e.assets.GetByTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, asset.StatusReady, a.Status)
	assert.Equal(t, "https://example.test/video.mp4", a.URI)
	assert.Empty(t, a.Path)
}

func TestSessionDrivesImageGeneration(t *testing.T) {
	mock := &provider.Mock{}
	e := newTestEngine(t, mock)

	s := e.Session("sess-1")
	err := s.ProcessEvent(context.Background(), agent.Event{Type: agent.EventUserMessage, Text: "draw a lighthouse"})
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, agent.PhaseCompleted, snap.Phase)
	require.Len(t, snap.Context.ArtifactIDs, 1)

	tasks, err := e.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.StatusCompleted, tasks[0].Status)

	// Same ID returns the same session; a reset forgets it.
	assert.Same(t, s, e.Session("sess-1"))
	e.ResetSession("sess-1")
	assert.NotSame(t, s, e.Session("sess-1"))
}

func TestSessionVideoGatesOnConfirmation(t *testing.T) {
	mock := &provider.Mock{}
	e := newTestEngine(t, mock)

	s := e.Session("sess-2")
	require.NoError(t, s.ProcessEvent(context.Background(), agent.Event{Type: agent.EventUserMessage, Text: "make a video of rain"}))
	assert.Equal(t, agent.PhaseAwaitingConfirmation, s.Snapshot().Phase)

	stats := e.QueueStats()
	assert.Zero(t, stats.VideoActive+stats.VideoWaiting)

	require.NoError(t, s.ProcessEvent(context.Background(), agent.Event{Type: agent.EventUserConfirm}))
	assert.Equal(t, agent.PhaseCompleted, s.Snapshot().Phase)

	tasks, err := e.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ClassVideo, tasks[0].ResourceClass)
	assert.Equal(t, task.StatusCompleted, tasks[0].Status)
}

func TestRecoverReclassifiesInterrupted(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "atelier.db")

	tasks, err := task.NewStore(dbPath)
	require.NoError(t, err)
	seed := &task.Task{ID: task.NewID(), ResourceClass: task.ClassImage, SubmittedAt: time.Now().UTC()}
	require.NoError(t, tasks.Create(context.Background(), seed))
	require.NoError(t, tasks.MarkGenerating(context.Background(), seed.ID))
	require.NoError(t, tasks.Close())

	tasks, err = task.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { tasks.Close() })
	assets, err := asset.NewStore(dbPath, filepath.Join(dir, "assets"))
	require.NoError(t, err)
	t.Cleanup(func() { assets.Close() })

	e := New(tasks, assets, &provider.Mock{}, Options{})
	t.Cleanup(e.Close)

	recovered, err := e.Recover(context.Background())
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, task.StatusFailed, recovered[0].Status)
	assert.Equal(t, task.InterruptedReason, recovered[0].ErrorDetail)
}
