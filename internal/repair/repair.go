// Package repair implements the bounded generate-execute-repair cycle shared
// by the agents. A Loop asks a generator for a candidate, runs it, and on
// failure asks for a revision that sees the failed candidate and its error,
// until a candidate succeeds or the attempt budget is spent.
package repair

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/fault"
)

// DefaultMaxAttempts is the attempt budget when none is configured.
const DefaultMaxAttempts = 3

// State is a position in the loop's state machine.
type State int

const (
	// Generating means a candidate is being requested.
	Generating State = iota
	// Executing means a candidate is being run.
	Executing
	// Repairing means a candidate failed and a revision will be requested.
	Repairing
	// Done is terminal: a candidate succeeded.
	Done
	// Exhausted is terminal: every attempt failed.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Generating:
		return "generating"
	case Executing:
		return "executing"
	case Repairing:
		return "repairing"
	case Done:
		return "done"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request is what the generator receives. On the first attempt PriorProgram
// and PriorError are empty; later attempts carry the failed candidate and its
// error summary verbatim.
type Request struct {
	Attempt      int
	PriorProgram string
	PriorError   string
}

// IsRepair reports whether the request asks for a revision.
func (r Request) IsRepair() bool { return r.PriorError != "" }

// Attempt records one pass through the loop.
type Attempt struct {
	Number  int    `json:"number"`
	Program string `json:"program"`
	Err     string `json:"error,omitempty"`
}

// Generator produces a candidate program for req.
type Generator func(ctx context.Context, req Request) (string, error)

// Executor runs a candidate program.
type Executor[T any] func(ctx context.Context, program string) (T, error)

// Result is the terminal outcome of a run.
type Result[T any] struct {
	Value    T
	State    State
	Attempts []Attempt
	// Program is the last candidate produced, successful or not.
	Program string
	// Err is nil when State is Done.
	Err error
}

// Steps returns the number of attempts made.
func (r Result[T]) Steps() int { return len(r.Attempts) }

// Loop is a bounded self-correction loop.
type Loop[T any] struct {
	// Name labels logs and spans (e.g. "table", "analytics").
	Name        string
	Generate    Generator
	Execute     Executor[T]
	MaxAttempts int
	Logger      *zap.Logger
}

// Run drives the loop to Done or Exhausted. It never makes more than
// MaxAttempts attempts. Generation and execution failures both consume an
// attempt and are fed back to the generator. A failure classified as
// fault.Unavailable, or cancellation of ctx, ends the loop immediately.
func (l *Loop[T]) Run(ctx context.Context) Result[T] {
	maxAttempts := l.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("loop", l.Name))

	var (
		res     Result[T]
		req     = Request{}
		lastErr error
	)
	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			lastErr = fault.Wrap(fault.Unavailable, l.op(), err)
			break
		}
		req.Attempt = n

		program, value, state, err := l.attempt(ctx, req)
		res.Attempts = append(res.Attempts, Attempt{Number: n, Program: program, Err: summary(err)})
		if program != "" {
			res.Program = program
		}
		if err == nil {
			res.Value = value
			res.State = Done
			logger.Debug("candidate succeeded", zap.Int("attempt", n))
			return res
		}

		lastErr = err
		logger.Info("candidate failed",
			zap.Int("attempt", n),
			zap.Int("max_attempts", maxAttempts),
			zap.Stringer("stage", state),
			zap.Error(err),
		)
		if fault.KindOf(err) == fault.Unavailable {
			break
		}
		req = Request{PriorProgram: res.Program, PriorError: summary(err)}
	}

	res.State = Exhausted
	res.Err = exhausted(l.op(), len(res.Attempts), lastErr)
	return res
}

// attempt runs one generate+execute pass. The returned State is the stage
// that failed, when err is non-nil.
func (l *Loop[T]) attempt(ctx context.Context, req Request) (string, T, State, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "repair.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("repair.loop", l.Name),
		attribute.Int("repair.attempt", req.Attempt),
		attribute.Bool("repair.revision", req.IsRepair()),
	)

	var zero T
	program, err := l.Generate(ctx, req)
	if err == nil && strings.TrimSpace(program) == "" {
		err = fault.New(fault.Generation, l.op(), "generator returned an empty program")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return program, zero, Generating, fault.Wrap(fault.Generation, l.op(), err)
	}

	value, err := l.Execute(ctx, program)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		return program, zero, Executing, fault.Wrap(fault.Execution, l.op(), err)
	}
	return program, value, Done, nil
}

func (l *Loop[T]) op() string {
	if l.Name == "" {
		return "repair"
	}
	return "repair." + l.Name
}

// exhausted wraps the last failure, keeping its classification.
func exhausted(op string, attempts int, last error) error {
	kind := fault.Execution
	if last != nil {
		kind = fault.KindOf(last)
	}
	return &fault.Error{
		Kind: kind,
		Op:   op,
		Msg:  fmt.Sprintf("gave up after %d attempts", attempts),
		Err:  last,
	}
}

// summary returns the innermost message of err: the text the generator
// needs to repair the candidate, without the loop's own prefixes.
func summary(err error) string {
	if err == nil {
		return ""
	}
	for {
		fe, ok := err.(*fault.Error)
		if !ok {
			return firstLine(err.Error())
		}
		if fe.Msg != "" {
			if fe.Err != nil {
				return firstLine(fe.Msg + ": " + fe.Err.Error())
			}
			return firstLine(fe.Msg)
		}
		if fe.Err == nil {
			return fe.Kind.String()
		}
		err = fe.Err
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

const tracerName = "github.com/dusk-indust/querydesk/internal/repair"
