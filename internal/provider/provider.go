// Package provider wraps the external generation service. The
// orchestration engine treats it as a black box: parameters in,
// artifact reference (or operation handle, or error) out.
package provider

import "context"

// Artifact is a reference to one finished piece of generated media.
// Either Data (inline bytes) or URI (remote reference) is set.
type Artifact struct {
	MIMEType string
	Data     []byte
	URI      string
}

// Request carries the generation parameters for one job.
type Request struct {
	Prompt string
	// Params holds provider-specific knobs (aspect ratio, duration,
	// reference inputs) passed through opaquely.
	Params map[string]interface{}
}

// Operation is an opaque handle to a long-running generation. The
// engine polls it on a fixed interval until Done.
type Operation struct {
	Name     string
	Done     bool
	Artifact *Artifact
}

// Client is the generation provider boundary.
//
// GenerateImage is synchronous-style: it blocks until the provider
// returns a finished artifact or an error. Video generation is
// long-running: StartVideo returns a handle and PollVideo checks it
// once; the caller owns the poll loop and its interval.
type Client interface {
	GenerateImage(ctx context.Context, req Request) (*Artifact, error)
	StartVideo(ctx context.Context, req Request) (*Operation, error)
	PollVideo(ctx context.Context, op *Operation) (*Operation, error)
}
