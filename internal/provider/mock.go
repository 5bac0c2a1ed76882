package provider

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Mock is an offline Client used when no API key is configured and
// throughout tests. Behaviour is overridable per call via the
// exported function fields; the defaults return tiny canned
// artifacts.
type Mock struct {
	GenerateImageFunc func(ctx context.Context, req Request) (*Artifact, error)
	StartVideoFunc    func(ctx context.Context, req Request) (*Operation, error)
	PollVideoFunc     func(ctx context.Context, op *Operation) (*Operation, error)

	ops atomic.Int64
}

var _ Client = (*Mock)(nil)

func (m *Mock) GenerateImage(ctx context.Context, req Request) (*Artifact, error) {
	if m.GenerateImageFunc != nil {
		return m.GenerateImageFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Artifact{MIMEType: "image/png", Data: []byte("mock-image:" + req.Prompt)}, nil
}

func (m *Mock) StartVideo(ctx context.Context, req Request) (*Operation, error) {
	if m.StartVideoFunc != nil {
		return m.StartVideoFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Operation{Name: fmt.Sprintf("operations/mock-%d", m.ops.Add(1))}, nil
}

func (m *Mock) PollVideo(ctx context.Context, op *Operation) (*Operation, error) {
	if m.PollVideoFunc != nil {
		return m.PollVideoFunc(ctx, op)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Operation{
		Name: op.Name,
		Done: true,
		Artifact: &Artifact{
			MIMEType: "video/mp4",
			URI:      "mock://" + op.Name + "/video.mp4",
		},
	}, nil
}
