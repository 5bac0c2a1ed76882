package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini generates images through the genai SDK and videos through
// the REST predictLongRunning surface (the SDK has no video API).
type Gemini struct {
	client     *genai.Client
	httpc      *http.Client
	apiKey     string
	imageModel string
	videoModel string
	baseURL    string
}

// NewGemini creates a provider client. The REST base URL can be
// overridden with GEMINI_API_URL (useful for tests and proxies).
func NewGemini(ctx context.Context, apiKey, imageModel, videoModel string) (*Gemini, error) {
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	base := defaultBaseURL
	if v := os.Getenv("GEMINI_API_URL"); v != "" {
		base = strings.TrimRight(v, "/")
	}

	return &Gemini{
		client:     c,
		httpc:      &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		imageModel: imageModel,
		videoModel: videoModel,
		baseURL:    base,
	}, nil
}

// Close releases the underlying SDK client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// GenerateImage requests one image and returns its inline bytes.
func (g *Gemini) GenerateImage(ctx context.Context, req Request) (*Artifact, error) {
	model := g.client.GenerativeModel(g.imageModel)
	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}
	if art := firstBlob(resp); art != nil {
		return art, nil
	}
	return nil, fmt.Errorf("generate image: no image data in response")
}

// firstBlob walks response candidates for the first inline media part.
func firstBlob(r *genai.GenerateContentResponse) *Artifact {
	if r == nil {
		return nil
	}
	for _, c := range r.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if b, ok := part.(genai.Blob); ok {
				return &Artifact{MIMEType: b.MIMEType, Data: b.Data}
			}
		}
	}
	return nil
}

// StartVideo kicks off a long-running video generation and returns
// the operation handle.
func (g *Gemini) StartVideo(ctx context.Context, req Request) (*Operation, error) {
	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning?key=%s",
		g.baseURL, url.PathEscape(g.videoModel), url.QueryEscape(g.apiKey))

	body := map[string]interface{}{
		"instances": []map[string]interface{}{{"prompt": req.Prompt}},
	}
	if len(req.Params) > 0 {
		body["parameters"] = req.Params
	}
	b, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")

	res, err := g.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("start video: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var eresp map[string]interface{}
		_ = json.NewDecoder(res.Body).Decode(&eresp)
		return nil, fmt.Errorf("start video: status %d: %v", res.StatusCode, eresp)
	}

	var out struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("start video: decode: %w", err)
	}
	if out.Name == "" {
		return nil, fmt.Errorf("start video: empty operation name")
	}
	return &Operation{Name: out.Name}, nil
}

// PollVideo checks a video operation once. When the operation is
// done it either carries an artifact URI or a terminal error.
func (g *Gemini) PollVideo(ctx context.Context, op *Operation) (*Operation, error) {
	endpoint := fmt.Sprintf("%s/%s?key=%s", g.baseURL, op.Name, url.QueryEscape(g.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	res, err := g.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("poll video: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var eresp map[string]interface{}
		_ = json.NewDecoder(res.Body).Decode(&eresp)
		return nil, fmt.Errorf("poll video: status %d: %v", res.StatusCode, eresp)
	}

	var out struct {
		Name  string `json:"name"`
		Done  bool   `json:"done"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Response *struct {
			GenerateVideoResponse struct {
				GeneratedSamples []struct {
					Video struct {
						URI string `json:"uri"`
					} `json:"video"`
				} `json:"generatedSamples"`
			} `json:"generateVideoResponse"`
		} `json:"response"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("poll video: decode: %w", err)
	}

	next := &Operation{Name: op.Name, Done: out.Done}
	if !out.Done {
		return next, nil
	}
	if out.Error != nil {
		return nil, fmt.Errorf("video generation failed: %s", out.Error.Message)
	}
	if out.Response == nil || len(out.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return nil, fmt.Errorf("video generation finished with no samples")
	}
	next.Artifact = &Artifact{
		MIMEType: "video/mp4",
		URI:      out.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI,
	}
	return next, nil
}
