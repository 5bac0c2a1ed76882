package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/prism/atelier/internal/agent"
	"github.com/prism/atelier/internal/provider"
	"github.com/prism/atelier/internal/task"
)

// Session binds one agent state machine to the engine. The mutex
// serializes events: the machine itself is single-threaded and the
// engine guarantees one event at a time per session.
type Session struct {
	ID string

	mu      sync.Mutex
	machine *agent.Machine
}

// Session returns the session with the given ID, creating it on
// first use.
func (e *Engine) Session(id string) *Session {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()

	if s, ok := e.sessions[id]; ok {
		return s
	}
	s := &Session{
		ID:      id,
		machine: agent.New(id, e.planner, &sessionExecutor{engine: e}),
	}
	e.sessions[id] = s
	return s
}

// ResetSession discards a session's accumulated state.
func (e *Engine) ResetSession(id string) {
	e.sessMu.Lock()
	delete(e.sessions, id)
	e.sessMu.Unlock()
}

// ProcessEvent feeds one event through the session's machine,
// blocking until the machine next needs input.
func (s *Session) ProcessEvent(ctx context.Context, ev agent.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.ProcessEvent(ctx, ev)
}

// Confirm approves the pending gated action and resumes execution.
func (s *Session) Confirm(ctx context.Context) error {
	return s.ProcessEvent(ctx, agent.Event{Type: agent.EventUserConfirm})
}

// Reject discards the pending gated action and its plan.
func (s *Session) Reject(ctx context.Context) error {
	return s.ProcessEvent(ctx, agent.Event{Type: agent.EventUserReject})
}

// Modify patches the pending gated action's parameters in place.
func (s *Session) Modify(ctx context.Context, patch map[string]interface{}) error {
	return s.ProcessEvent(ctx, agent.Event{Type: agent.EventUserModify, Patch: patch})
}

// Snapshot exports the machine's current state.
func (s *Session) Snapshot() agent.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Snapshot()
}

// sessionExecutor adapts the engine's blocking generation path to the
// agent's Executor seam.
type sessionExecutor struct {
	engine *Engine
}

var _ agent.Executor = (*sessionExecutor)(nil)

func (x *sessionExecutor) Execute(ctx context.Context, action agent.Action) (agent.Result, error) {
	switch action.Kind {
	case agent.KindGenerateImage, agent.KindEditImage:
		return x.generate(ctx, task.ClassImage, action)
	case agent.KindGenerateVideo:
		return x.generate(ctx, task.ClassVideo, action)
	case agent.KindSearch, agent.KindAnalyze:
		// Non-generating steps resolve locally; nothing enters a queue.
		return agent.Result{Summary: fmt.Sprintf("%s noted: %v", action.Kind, action.Params["prompt"])}, nil
	default:
		return agent.Result{}, fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

func (x *sessionExecutor) generate(ctx context.Context, class task.ResourceClass, action agent.Action) (agent.Result, error) {
	req := provider.Request{Params: action.Params}
	if p, ok := action.Params["prompt"].(string); ok {
		req.Prompt = p
	}

	id, err := x.engine.Generate(ctx, class, req)
	if err != nil {
		return agent.Result{}, err
	}

	a, err := x.engine.assets.GetByTask(ctx, id)
	if err != nil {
		return agent.Result{ArtifactID: id}, nil
	}
	summary := a.Path
	if summary == "" {
		summary = a.URI
	}
	return agent.Result{ArtifactID: a.ID, Summary: summary}, nil
}
