// Package agent implements the planning state machine that turns a
// conversational request into one or more gated generation actions.
// The machine is single-threaded and cooperative: one event is
// processed to completion before the next is accepted, so callers
// serialize access per session.
package agent

import (
	"context"
	"time"
)

// ActionKind categorizes one unit of agent-planned work.
type ActionKind string

const (
	KindSearch        ActionKind = "search"
	KindAnalyze       ActionKind = "analyze"
	KindGenerateImage ActionKind = "generate_image"
	KindGenerateVideo ActionKind = "generate_video"
	KindEditImage     ActionKind = "edit_image"
)

// Action is one unit of agent-planned work, richer than a queue job.
type Action struct {
	Kind                 ActionKind             `json:"kind"`
	Params               map[string]interface{} `json:"params,omitempty"`
	RequiresConfirmation bool                   `json:"requires_confirmation"`
	EstimatedDuration    time.Duration          `json:"estimated_duration,omitempty"` // advisory only
}

// Result is the outcome of one executed action.
type Result struct {
	ArtifactID string `json:"artifact_id,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// Executor runs a single action to completion. The engine's
// implementation submits through the job queue; test executors are
// scripted.
type Executor interface {
	Execute(ctx context.Context, action Action) (Result, error)
}

// PlanResponse is the planner collaborator's answer to a user
// message: either a clarifying question or a concrete plan.
type PlanResponse struct {
	Clarification string
	Actions       []Action
}

// Planner converts recorded intent into a plan. The conversational
// model's reasoning is outside this package; implementations range
// from scripted test planners to the keyword planner to a remote
// model.
type Planner interface {
	Plan(ctx context.Context, intent string, attachments []string) (*PlanResponse, error)
}
