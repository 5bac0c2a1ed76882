package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiresConfirmation(t *testing.T) {
	tests := []struct {
		name string
		kind ActionKind
		flag bool
		want bool
	}{
		{"video overrides false flag", KindGenerateVideo, false, true},
		{"video keeps true flag", KindGenerateVideo, true, true},
		{"image follows false flag", KindGenerateImage, false, false},
		{"image follows true flag", KindGenerateImage, true, true},
		{"edit follows flag", KindEditImage, false, false},
		{"search follows flag", KindSearch, false, false},
		{"analyze follows flag", KindAnalyze, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiresConfirmation(tt.kind, tt.flag))
		})
	}
}

func TestKeywordPlanner(t *testing.T) {
	tests := []struct {
		name        string
		intent      string
		attachments []string
		wantKind    ActionKind
		wantClarify bool
	}{
		{"video phrasing", "make a video of waves", nil, KindGenerateVideo, false},
		{"animation phrasing", "animate this scene", nil, KindGenerateVideo, false},
		{"image phrasing", "draw a red fox", nil, KindGenerateImage, false},
		{"photo phrasing", "a photo of the alps", nil, KindGenerateImage, false},
		{"edit with attachment", "remove the background", []string{"ref.png"}, KindEditImage, false},
		{"ambiguous asks back", "make something cool", nil, "", true},
		{"empty asks back", "   ", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := KeywordPlanner{}.Plan(context.Background(), tt.intent, tt.attachments)
			assert.NoError(t, err)
			if tt.wantClarify {
				assert.NotEmpty(t, resp.Clarification)
				assert.Empty(t, resp.Actions)
				return
			}
			assert.Len(t, resp.Actions, 1)
			assert.Equal(t, tt.wantKind, resp.Actions[0].Kind)
		})
	}
}
