package agent

import (
	"context"
	"strings"
)

// KeywordPlanner is the default offline planner. It maps obvious
// phrasing onto single-action plans and asks for clarification when
// the intent names no medium at all. A model-backed planner can
// replace it without touching the machine.
type KeywordPlanner struct{}

var _ Planner = (*KeywordPlanner)(nil)

func (KeywordPlanner) Plan(ctx context.Context, intent string, attachments []string) (*PlanResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(intent)
	params := map[string]interface{}{"prompt": intent}
	if len(attachments) > 0 {
		params["attachments"] = attachments
	}

	switch {
	case containsAny(lower, "video", "animate", "animation", "clip", "footage"):
		return &PlanResponse{Actions: []Action{{Kind: KindGenerateVideo, Params: params}}}, nil
	case len(attachments) > 0 && containsAny(lower, "edit", "change", "modify", "remove", "replace", "retouch"):
		return &PlanResponse{Actions: []Action{{Kind: KindEditImage, Params: params}}}, nil
	case containsAny(lower, "image", "picture", "photo", "draw", "render", "illustration", "logo", "poster"):
		return &PlanResponse{Actions: []Action{{Kind: KindGenerateImage, Params: params}}}, nil
	case strings.TrimSpace(intent) == "":
		return &PlanResponse{Clarification: "What would you like me to create?"}, nil
	default:
		return &PlanResponse{
			Clarification: "Should this be an image or a video?",
		}, nil
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
