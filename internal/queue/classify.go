package queue

import (
	"context"
	"errors"
	"strings"
)

// ErrCancelled marks a job outcome caused by cancellation rather
// than failure. Callers must treat it as a distinct terminal state:
// cancelled tasks are removed, never marked failed.
var ErrCancelled = errors.New("job cancelled")

// Kind classifies a job failure for retry purposes.
type Kind int

const (
	// KindTransient failures (network blips, 5xx, overload) are
	// retried with backoff.
	KindTransient Kind = iota
	// KindQuota failures (rate limit, quota exhaustion) are never
	// retried.
	KindQuota
	// KindCancelled outcomes propagate immediately and are not
	// failures at all.
	KindCancelled
)

// Classify maps a job error to its retry class.
//
// The quota check string-matches the provider's error text ("429" or
// "quota"). That conflates HTTP status and free text and is known to
// be brittle; it lives here, and only here, so the heuristic can be
// swapped without touching retry logic.
func Classify(err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "quota") {
		return KindQuota
	}
	return KindTransient
}

// IsCancelled reports whether a Submit outcome was a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
