// Package engine wires the job queues, the durable task ledger, the
// asset store and the generation provider into one orchestrator. All
// lifecycle writes flow through here; queues never touch storage and
// stores never run jobs.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prism/atelier/internal/agent"
	"github.com/prism/atelier/internal/asset"
	"github.com/prism/atelier/internal/logging"
	"github.com/prism/atelier/internal/provider"
	"github.com/prism/atelier/internal/queue"
	"github.com/prism/atelier/internal/task"
)

// Options tune an Engine at construction time. Zero values take the
// documented defaults.
type Options struct {
	MaxImageJobs int           // default 4
	MaxVideoJobs int           // default 1
	PollInterval time.Duration // video operation poll cadence, default 5s
	Planner      agent.Planner // default KeywordPlanner
}

// Engine orchestrates generation tasks across the per-class queues.
type Engine struct {
	tasks    *task.Store
	assets   *asset.Store
	client   provider.Client
	planner  agent.Planner
	pollWait time.Duration
	log      *logging.Logger

	imageQueue *queue.Queue
	videoQueue *queue.Queue

	rootCtx  context.Context
	shutdown context.CancelFunc

	// cancels maps a live task ID to the function that aborts it.
	// Entries are added at submission and removed when the task
	// reaches an outcome, so Cancel on an unknown ID can be rejected.
	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	sessMu   sync.Mutex
	sessions map[string]*Session
}

// New builds an engine over the given stores and provider client.
func New(tasks *task.Store, assets *asset.Store, client provider.Client, opts Options) *Engine {
	if opts.MaxImageJobs <= 0 {
		opts.MaxImageJobs = 4
	}
	if opts.MaxVideoJobs <= 0 {
		opts.MaxVideoJobs = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Planner == nil {
		opts.Planner = agent.KeywordPlanner{}
	}

	rootCtx, shutdown := context.WithCancel(context.Background())
	return &Engine{
		tasks:      tasks,
		assets:     assets,
		client:     client,
		planner:    opts.Planner,
		pollWait:   opts.PollInterval,
		log:        logging.New("engine"),
		imageQueue: queue.New(string(task.ClassImage), opts.MaxImageJobs),
		videoQueue: queue.New(string(task.ClassVideo), opts.MaxVideoJobs),
		rootCtx:    rootCtx,
		shutdown:   shutdown,
		cancels:    make(map[string]context.CancelFunc),
		sessions:   make(map[string]*Session),
	}
}

// ImageQueue exposes the image queue for tuning and inspection.
func (e *Engine) ImageQueue() *queue.Queue { return e.imageQueue }

// VideoQueue exposes the video queue for tuning and inspection.
func (e *Engine) VideoQueue() *queue.Queue { return e.videoQueue }

// Recover reclassifies tasks left in flight by a previous process and
// returns the full ledger. Call once before accepting submissions.
func (e *Engine) Recover(ctx context.Context) ([]*task.Task, error) {
	return e.tasks.RecoverOnStartup(ctx)
}

// Close aborts all live tasks and stops background work.
func (e *Engine) Close() {
	e.shutdown()
}

// Submit persists a new task and starts it through its class queue.
// It returns the task ID immediately plus a channel that yields the
// final outcome (nil, the normalized failure, or queue.ErrCancelled).
func (e *Engine) Submit(ctx context.Context, class task.ResourceClass, req provider.Request) (string, <-chan error, error) {
	t := &task.Task{
		ID:            task.NewID(),
		ResourceClass: class,
		SubmittedAt:   time.Now().UTC(),
		Request:       requestRecord(req),
	}
	if err := e.tasks.Create(ctx, t); err != nil {
		return "", nil, err
	}
	if _, err := e.assets.CreatePending(ctx, t.ID, string(class), req.Prompt); err != nil {
		return "", nil, err
	}

	jobCtx, cancel := context.WithCancel(e.rootCtx)
	e.mu.Lock()
	e.cancels[t.ID] = cancel
	e.mu.Unlock()

	log := e.log.WithTask(t.ID).WithClass(string(class))
	log.Info("task_submitted", map[string]interface{}{"prompt_len": len(req.Prompt)})

	done := make(chan error, 1)
	go func() {
		done <- e.run(jobCtx, t.ID, class, req)
	}()
	return t.ID, done, nil
}

// Generate is the blocking form of Submit.
func (e *Engine) Generate(ctx context.Context, class task.ResourceClass, req provider.Request) (string, error) {
	id, done, err := e.Submit(ctx, class, req)
	if err != nil {
		return "", err
	}
	select {
	case err := <-done:
		return id, err
	case <-ctx.Done():
		// Caller gave up waiting; abort the task too.
		_ = e.Cancel(id)
		return id, <-done
	}
}

// run drives one task through its queue to a durable outcome.
func (e *Engine) run(jobCtx context.Context, id string, class task.ResourceClass, req provider.Request) error {
	defer func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.mu.Unlock()
	}()

	q := e.imageQueue
	if class == task.ClassVideo {
		q = e.videoQueue
	}

	log := e.log.WithTask(id).WithClass(string(class))
	start := time.Now()

	err := q.Submit(jobCtx, func(ctx context.Context) error {
		return e.runOnce(ctx, id, class, req)
	}, func() {
		if err := e.tasks.MarkGenerating(context.Background(), id); err != nil {
			log.Error("mark_generating", nil, err)
		}
	})

	// Outcome writes use a fresh context: jobCtx is cancelled exactly
	// when the cancellation path runs.
	outCtx := context.Background()
	switch {
	case err == nil:
		if dbErr := e.tasks.MarkCompleted(outCtx, id); dbErr != nil {
			log.Error("mark_completed", nil, dbErr)
		}
		log.TimedEvent("task_completed", start, nil)
	case queue.IsCancelled(err):
		// Cancelled work is removed outright, not recorded as failed.
		if dbErr := e.assets.DeleteByTask(outCtx, id); dbErr != nil {
			log.Error("delete_assets", nil, dbErr)
		}
		if dbErr := e.tasks.Delete(outCtx, id); dbErr != nil {
			log.Error("delete_task", nil, dbErr)
		}
		log.Info("task_cancelled", nil)
	default:
		if dbErr := e.assets.MarkFailed(outCtx, id); dbErr != nil {
			log.Error("mark_asset_failed", nil, dbErr)
		}
		if dbErr := e.tasks.MarkFailed(outCtx, id, err.Error()); dbErr != nil {
			log.Error("mark_failed", nil, dbErr)
		}
		log.Error("task_failed", nil, err)
	}
	return err
}

// runOnce is one provider attempt; the queue owns retries around it.
func (e *Engine) runOnce(ctx context.Context, id string, class task.ResourceClass, req provider.Request) error {
	switch class {
	case task.ClassVideo:
		return e.runVideo(ctx, id, req)
	default:
		art, err := e.client.GenerateImage(ctx, req)
		if err != nil {
			return err
		}
		_, err = e.assets.MarkReady(ctx, id, art.MIMEType, art.URI, art.Data)
		return err
	}
}

// runVideo starts the long-running operation and polls it on a fixed
// interval until it resolves or the context is cancelled.
func (e *Engine) runVideo(ctx context.Context, id string, req provider.Request) error {
	op, err := e.client.StartVideo(ctx, req)
	if err != nil {
		return err
	}

	log := e.log.WithTask(id)
	log.Debug("video_operation_started", map[string]interface{}{"operation": op.Name})

	ticker := time.NewTicker(e.pollWait)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		op, err = e.client.PollVideo(ctx, op)
		if err != nil {
			return err
		}
		if !op.Done {
			continue
		}
		if op.Artifact == nil {
			return fmt.Errorf("video operation %s finished without artifact", op.Name)
		}
		_, err = e.assets.MarkReady(ctx, id, op.Artifact.MIMEType, op.Artifact.URI, op.Artifact.Data)
		return err
	}
}

// Cancel aborts a live task. The task record and any pending asset
// are deleted once the job observes the cancellation.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no live task %s", id)
	}
	cancel()
	return nil
}

// Task returns one task record.
func (e *Engine) Task(ctx context.Context, id string) (*task.Task, error) {
	return e.tasks.Get(ctx, id)
}

// Tasks returns all task records, newest first.
func (e *Engine) Tasks(ctx context.Context) ([]*task.Task, error) {
	return e.tasks.List(ctx)
}

// Assets returns all asset records, newest first.
func (e *Engine) Assets(ctx context.Context) ([]*asset.Asset, error) {
	return e.assets.List(ctx)
}

// Prune deletes terminal task records.
func (e *Engine) Prune(ctx context.Context) (int64, error) {
	return e.tasks.PruneTerminal(ctx)
}

// Stats is a point-in-time view of queue pressure.
type Stats struct {
	ImageActive  int `json:"image_active"`
	ImageWaiting int `json:"image_waiting"`
	VideoActive  int `json:"video_active"`
	VideoWaiting int `json:"video_waiting"`
	LiveTasks    int `json:"live_tasks"`
}

// QueueStats samples the current queue occupancy.
func (e *Engine) QueueStats() Stats {
	e.mu.Lock()
	live := len(e.cancels)
	e.mu.Unlock()
	return Stats{
		ImageActive:  e.imageQueue.Active(),
		ImageWaiting: e.imageQueue.Waiting(),
		VideoActive:  e.videoQueue.Active(),
		VideoWaiting: e.videoQueue.Waiting(),
		LiveTasks:    live,
	}
}

func requestRecord(req provider.Request) map[string]interface{} {
	rec := map[string]interface{}{"prompt": req.Prompt}
	for k, v := range req.Params {
		rec[k] = v
	}
	return rec
}
