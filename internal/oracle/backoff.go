package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/fault"
)

// BackoffConfig configures rate-limit retries and the per-call timeout.
type BackoffConfig struct {
	// Base is the first wait after a rate-limited call.
	Base time.Duration `yaml:"base,omitempty"`

	// Multiplier scales each subsequent wait.
	Multiplier float64 `yaml:"multiplier,omitempty"`

	// MaxInterval caps a single wait.
	MaxInterval time.Duration `yaml:"maxInterval,omitempty"`

	// MaxRetries bounds the number of calls made while rate limited.
	MaxRetries int `yaml:"maxRetries,omitempty"`

	// Timeout bounds every individual call.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DefaultBackoffConfig returns the documented system values: waits of
// 1s, 2s, 4s, 8s, ... over at most five calls, 120s per call.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        time.Second,
		Multiplier:  2,
		MaxInterval: time.Minute,
		MaxRetries:  5,
		Timeout:     120 * time.Second,
	}
}

// Schedule returns the waits Backoff performs after each of the first n
// rate-limited calls.
func (c BackoffConfig) Schedule(n int) []time.Duration {
	b := c.newBackOff()
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}

func (c BackoffConfig) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Base
	b.Multiplier = c.Multiplier
	b.MaxInterval = c.MaxInterval
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Backoff decorates a TextOracle with a per-call timeout and exponential
// backoff on rate limiting. Other failures are returned immediately.
type Backoff struct {
	next   TextOracle
	cfg    BackoffConfig
	sleep  SleepFunc
	logger *zap.Logger
}

// Compile-time check.
var _ TextOracle = (*Backoff)(nil)

// BackoffOption configures a Backoff.
type BackoffOption func(*Backoff)

// WithSleep replaces the wait function. Tests use it to observe waits
// without sleeping.
func WithSleep(fn SleepFunc) BackoffOption {
	return func(b *Backoff) { b.sleep = fn }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.Logger) BackoffOption {
	return func(b *Backoff) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBackoff wraps next. Zero fields in cfg take their default values.
func WithBackoff(next TextOracle, cfg BackoffConfig, opts ...BackoffOption) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	b := &Backoff{
		next:   next,
		cfg:    cfg,
		sleep:  sleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Complete calls the wrapped oracle, waiting and retrying while it reports
// rate limiting. Exhausting the retries yields a fault.Unavailable error.
// A failed call, including one that hit the per-call timeout, is a
// fault.Generation error so a repair loop spends an attempt on it.
func (b *Backoff) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "oracle.complete")
	defer span.End()

	schedule := b.cfg.newBackOff()
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		out, err := b.call(ctx, prompt)
		if err == nil {
			span.SetAttributes(attribute.Int("oracle.calls", attempt))
			return out, nil
		}
		lastErr = err

		if !IsRateLimited(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", classifyCallError(ctx, err)
		}
		if attempt == b.cfg.MaxRetries {
			break
		}

		wait := schedule.NextBackOff()
		b.logger.Warn("oracle rate limited, backing off",
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", b.cfg.MaxRetries),
		)
		if err := b.sleep(ctx, wait); err != nil {
			return "", fault.Wrap(fault.Unavailable, "oracle.complete", err)
		}
	}

	span.SetStatus(codes.Error, "rate limited")
	return "", &fault.Error{
		Kind: fault.Unavailable,
		Op:   "oracle.complete",
		Msg:  fmt.Sprintf("still rate limited after %d calls", b.cfg.MaxRetries),
		Err:  lastErr,
	}
}

// classifyCallError keeps the kind of an already classified error and treats
// cancellation of the caller's context as Unavailable. Anything else is a
// failed generation.
func classifyCallError(ctx context.Context, err error) error {
	const op = "oracle.complete"
	if ctx.Err() != nil {
		return fault.Wrap(fault.Unavailable, op, err)
	}
	if errors.Is(err, ErrNotConfigured) {
		return fault.Wrap(fault.Unavailable, op, err)
	}
	return fault.Wrap(fault.Generation, op, err)
}

func (b *Backoff) call(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.next.Complete(callCtx, prompt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

const tracerName = "github.com/dusk-indust/querydesk/internal/oracle"
