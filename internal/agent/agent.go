package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/prism/atelier/internal/logging"
	"github.com/prism/atelier/internal/queue"
)

// Phase is the state machine's current state.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseUnderstanding        Phase = "understanding"
	PhaseClarifying           Phase = "clarifying"
	PhasePlanning             Phase = "planning"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhaseExecuting            Phase = "executing"
	PhaseRetrying             Phase = "retrying"
	PhaseCompleted            Phase = "completed"
	PhaseError                Phase = "error"
)

// transitions is the set of legal phase changes. Anything not listed
// is a no-op that logs a warning and leaves the phase unchanged.
var transitions = map[Phase][]Phase{
	PhaseIdle:                 {PhaseUnderstanding, PhaseAwaitingConfirmation, PhaseExecuting},
	PhaseUnderstanding:        {PhaseClarifying, PhasePlanning, PhaseExecuting, PhaseError},
	PhaseClarifying:           {PhaseUnderstanding, PhasePlanning, PhaseIdle},
	PhasePlanning:             {PhaseAwaitingConfirmation, PhaseExecuting, PhaseError},
	PhaseAwaitingConfirmation: {PhaseExecuting, PhasePlanning, PhaseIdle},
	PhaseExecuting:            {PhaseCompleted, PhaseRetrying, PhaseError, PhaseAwaitingConfirmation},
	PhaseRetrying:             {PhaseExecuting, PhaseError},
	PhaseCompleted:            {PhaseIdle, PhasePlanning, PhaseExecuting},
	PhaseError:                {PhaseIdle},
}

// Context is the accumulated understanding for one session: intent,
// reference inputs, the active plan with its cursor, produced
// artifacts and the latest note surfaced to the user.
type Context struct {
	Intent        string   `json:"intent,omitempty"`
	Attachments   []string `json:"attachments,omitempty"`
	Plan          []Action `json:"plan,omitempty"`
	Cursor        int      `json:"cursor"`
	ArtifactIDs   []string `json:"artifact_ids,omitempty"`
	Clarification string   `json:"clarification,omitempty"`
	Note          string   `json:"note,omitempty"`
}

// Snapshot is a read-only projection of the machine for UI layers.
type Snapshot struct {
	Phase         Phase     `json:"phase"`
	Context       Context   `json:"context"`
	PendingAction *Action   `json:"pending_action,omitempty"`
	RetryCount    int       `json:"retry_count"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Machine is the planning state machine for one session. It is not
// safe for concurrent use; the owner serializes events.
type Machine struct {
	// MaxRetries bounds the agent's own execution retry layer,
	// independent of how often the job queue retried underneath.
	MaxRetries int

	// RetryBase is the wait unit between agent-level attempts; the
	// n-th retry waits RetryBase << n. Production keeps 1s.
	RetryBase time.Duration

	planner  Planner
	executor Executor
	log      *logging.Logger

	phase       Phase
	sc          Context
	pending     *Action
	retryCount  int
	lastUpdated time.Time
}

// New creates a machine in the idle phase.
func New(sessionID string, planner Planner, executor Executor) *Machine {
	return &Machine{
		MaxRetries:  3,
		RetryBase:   time.Second,
		planner:     planner,
		executor:    executor,
		log:         logging.New("agent").WithSession(sessionID),
		phase:       PhaseIdle,
		lastUpdated: time.Now().UTC(),
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// Snapshot exports a read-only copy of the machine's state.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		Phase:       m.phase,
		Context:     m.sc,
		RetryCount:  m.retryCount,
		LastUpdated: m.lastUpdated,
	}
	s.Context.Plan = append([]Action(nil), m.sc.Plan...)
	s.Context.ArtifactIDs = append([]string(nil), m.sc.ArtifactIDs...)
	s.Context.Attachments = append([]string(nil), m.sc.Attachments...)
	if m.pending != nil {
		p := *m.pending
		s.PendingAction = &p
	}
	return s
}

// transition moves to a new phase if the transition table allows it,
// returning false (and logging a warning) otherwise.
func (m *Machine) transition(to Phase) bool {
	for _, allowed := range transitions[m.phase] {
		if allowed == to {
			m.log.Debug("phase_transition", map[string]interface{}{
				"from": string(m.phase), "to": string(to),
			})
			m.phase = to
			m.lastUpdated = time.Now().UTC()
			return true
		}
	}
	m.log.Warn("invalid_transition", map[string]interface{}{
		"from": string(m.phase), "to": string(to),
	}, nil)
	return false
}

// reset returns the machine to its initial form, keeping note as the
// user-visible explanation.
func (m *Machine) reset(note string) {
	m.sc = Context{Note: note}
	m.pending = nil
	m.retryCount = 0
	m.phase = PhaseIdle
	m.lastUpdated = time.Now().UTC()
}

// ProcessEvent feeds one event into the machine and drives it until
// the machine next needs external input. Unknown or out-of-phase
// events are no-ops.
func (m *Machine) ProcessEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventUserMessage:
		return m.handleUserMessage(ctx, ev)
	case EventUserConfirm:
		if m.phase != PhaseAwaitingConfirmation {
			m.log.Warn("event_out_of_phase", map[string]interface{}{
				"event": string(ev.Type), "phase": string(m.phase),
			}, nil)
			return nil
		}
		if !m.transition(PhaseExecuting) {
			return nil
		}
		return m.runExecution(ctx)
	case EventUserReject:
		if m.phase != PhaseAwaitingConfirmation {
			m.log.Warn("event_out_of_phase", map[string]interface{}{
				"event": string(ev.Type), "phase": string(m.phase),
			}, nil)
			return nil
		}
		m.pending = nil
		m.sc.Plan = nil
		m.sc.Cursor = 0
		m.transition(PhaseIdle)
		return nil
	case EventUserModify:
		if m.phase != PhaseAwaitingConfirmation || m.pending == nil {
			m.log.Warn("event_out_of_phase", map[string]interface{}{
				"event": string(ev.Type), "phase": string(m.phase),
			}, nil)
			return nil
		}
		if m.pending.Params == nil {
			m.pending.Params = map[string]interface{}{}
		}
		for k, v := range ev.Patch {
			m.pending.Params[k] = v
		}
		m.lastUpdated = time.Now().UTC()
		return nil
	case EventActionSuccess:
		if m.phase != PhaseExecuting {
			m.log.Warn("event_out_of_phase", map[string]interface{}{
				"event": string(ev.Type), "phase": string(m.phase),
			}, nil)
			return nil
		}
		var res Result
		if ev.Result != nil {
			res = *ev.Result
		}
		m.handleActionSuccess(res)
		return nil
	case EventActionFailure:
		if m.phase != PhaseExecuting {
			m.log.Warn("event_out_of_phase", map[string]interface{}{
				"event": string(ev.Type), "phase": string(m.phase),
			}, nil)
			return nil
		}
		m.handleActionFailure(ev.Err)
		return nil
	case EventCancel:
		m.reset("Cancelled by user")
		return nil
	default:
		m.log.Warn("unknown_event", map[string]interface{}{"event": string(ev.Type)}, nil)
		return nil
	}
}

func (m *Machine) handleUserMessage(ctx context.Context, ev Event) error {
	switch m.phase {
	case PhaseCompleted, PhaseError:
		// Terminal-ish phases accept a fresh message: reset first.
		m.transition(PhaseIdle)
		m.reset("")
	case PhaseIdle:
		m.reset("")
	case PhaseClarifying:
		// The answer refines the recorded intent.
	default:
		m.log.Warn("event_out_of_phase", map[string]interface{}{
			"event": string(ev.Type), "phase": string(m.phase),
		}, nil)
		return nil
	}

	if m.sc.Intent == "" {
		m.sc.Intent = ev.Text
	} else {
		m.sc.Intent = m.sc.Intent + "\n" + ev.Text
	}
	m.sc.Attachments = append(m.sc.Attachments, ev.Attachments...)
	m.sc.Clarification = ""

	if !m.transition(PhaseUnderstanding) {
		return nil
	}
	return m.understand(ctx)
}

// understand consults the planner and admits the resulting plan.
func (m *Machine) understand(ctx context.Context) error {
	resp, err := m.planner.Plan(ctx, m.sc.Intent, m.sc.Attachments)
	if err != nil {
		m.sc.Note = fmt.Sprintf("planning failed: %v", err)
		m.transition(PhaseError)
		return err
	}

	if resp.Clarification != "" {
		m.sc.Clarification = resp.Clarification
		m.transition(PhaseClarifying)
		return nil
	}

	if len(resp.Actions) == 0 {
		m.sc.Note = "planner produced no actions"
		m.transition(PhaseError)
		return fmt.Errorf("planner produced no actions")
	}

	if !m.transition(PhasePlanning) {
		return nil
	}
	return m.SetPlan(ctx, resp.Actions)
}

// SetPlan stores an ordered multi-step plan and admits its first
// step. Progression through the remaining steps is driven by action
// success, one step at a time.
func (m *Machine) SetPlan(ctx context.Context, steps []Action) error {
	if len(steps) == 0 {
		return fmt.Errorf("empty plan")
	}
	m.sc.Plan = append([]Action(nil), steps...)
	m.sc.Cursor = 0
	return m.setPendingAction(ctx, m.sc.Plan[0])
}

// setPendingAction applies the confirmation policy and either parks
// the action behind the human gate or executes it immediately.
func (m *Machine) setPendingAction(ctx context.Context, action Action) error {
	action.RequiresConfirmation = RequiresConfirmation(action.Kind, action.RequiresConfirmation)
	m.pending = &action

	if action.RequiresConfirmation {
		m.transition(PhaseAwaitingConfirmation)
		return nil
	}
	if !m.transition(PhaseExecuting) {
		return nil
	}
	return m.runExecution(ctx)
}

// runExecution drives the plan cursor forward from the current
// pending action until the plan finishes, fails, or parks behind a
// confirmation gate. This is an explicit work list, not recursive
// self-invocation.
func (m *Machine) runExecution(ctx context.Context) error {
	for {
		if m.pending == nil {
			m.transition(PhaseCompleted)
			return nil
		}

		res, err := m.executeWithRetry(ctx, *m.pending)
		if err != nil {
			if queue.IsCancelled(err) {
				m.reset("Cancelled by user")
				return err
			}
			m.handleActionFailure(err)
			return err
		}

		if cont := m.handleActionSuccess(res); !cont {
			return nil
		}
	}
}

// executeWithRetry attempts the pending action up to 1+MaxRetries
// times, passing through the retrying phase between attempts.
// Cancellation propagates immediately and is never retried.
func (m *Machine) executeWithRetry(ctx context.Context, action Action) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= m.MaxRetries; attempt++ {
		res, err := m.executor.Execute(ctx, action)
		if err == nil {
			m.retryCount = 0
			return res, nil
		}
		lastErr = err

		if queue.IsCancelled(err) || ctx.Err() != nil {
			return Result{}, err
		}
		if queue.Classify(err) == queue.KindQuota {
			// Deterministic within the quota window; retrying re-runs
			// the whole submission just to fail again.
			break
		}
		if attempt == m.MaxRetries {
			break
		}

		m.retryCount = attempt + 1
		if !m.transition(PhaseRetrying) {
			return Result{}, err
		}
		m.log.Warn("action_retrying", map[string]interface{}{
			"attempt": m.retryCount, "kind": string(action.Kind),
		}, err)

		select {
		case <-time.After(m.RetryBase << attempt):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		if !m.transition(PhaseExecuting) {
			return Result{}, err
		}
	}
	return Result{}, lastErr
}

// handleActionSuccess records the result and advances the plan
// cursor. It returns true when the next step should execute
// immediately, false when the machine parked (confirmation gate) or
// finished.
func (m *Machine) handleActionSuccess(res Result) bool {
	if res.ArtifactID != "" {
		m.sc.ArtifactIDs = append(m.sc.ArtifactIDs, res.ArtifactID)
	}

	if m.sc.Cursor+1 < len(m.sc.Plan) {
		m.sc.Cursor++
		next := m.sc.Plan[m.sc.Cursor]
		next.RequiresConfirmation = RequiresConfirmation(next.Kind, next.RequiresConfirmation)
		m.pending = &next

		if next.RequiresConfirmation {
			m.transition(PhaseAwaitingConfirmation)
			return false
		}
		m.lastUpdated = time.Now().UTC()
		return true
	}

	m.pending = nil
	m.transition(PhaseCompleted)
	return false
}

// handleActionFailure records the normalized error after the retry
// budget is exhausted and moves to the error phase. Recovery needs a
// fresh user message.
func (m *Machine) handleActionFailure(err error) {
	if err != nil {
		m.sc.Note = err.Error()
	}
	m.log.Error("action_failed", map[string]interface{}{"retries": m.retryCount}, err)
	m.transition(PhaseError)
}
