// Package oracle wraps the text-generation backend used for classification,
// decomposition, program generation, repair, and synthesis behind a single
// capability.
package oracle

import (
	"context"
	"errors"

	"github.com/dusk-indust/querydesk/internal/fault"
)

// TextOracle completes a prompt with generated text. Implementations must be
// safe for concurrent use.
type TextOracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to TextOracle.
type Func func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ErrRateLimited is returned (wrapped) by backends when the provider asks the
// caller to slow down. Backoff retries only errors matching it.
var ErrRateLimited = errors.New("oracle: rate limited")

// ErrNotConfigured is returned by Unconfigured.
var ErrNotConfigured = errors.New("oracle: not configured")

// IsRateLimited reports whether err signals provider rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Unconfigured is a TextOracle that always fails. It keeps the service
// routable (keyword classification still works) when no backend is set up.
type Unconfigured struct{}

// Complete always fails with an Unavailable fault wrapping ErrNotConfigured.
func (Unconfigured) Complete(context.Context, string) (string, error) {
	return "", fault.Wrap(fault.Unavailable, "oracle", ErrNotConfigured)
}
