// Package fault defines the failure taxonomy shared by every component
// boundary. Internal errors are converted into a *fault.Error before they
// cross up toward the transport, so callers can tell "ask again differently"
// apart from "system unavailable" and "no data".
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// Internal is an unexpected failure that fits no other kind.
	Internal Kind = iota

	// Classification means the oracle could not label the intent. It is
	// recovered locally by the keyword heuristic and never surfaced.
	Classification

	// Generation means the oracle produced unusable output after the bounded
	// number of attempts.
	Generation

	// Execution means a generated program raised, timed out, or returned a
	// malformed shape on every attempt.
	Execution

	// SourceRejection means a downstream data source rejected a request.
	SourceRejection

	// Decomposition means a fusion request could not be split into
	// per-agent sub-questions.
	Decomposition

	// PartialFusion means one side of a fusion failed. It annotates a
	// successful response and is not an error on its own.
	PartialFusion

	// Unavailable means a collaborator (oracle, data source) could not be
	// reached or kept rate-limiting us.
	Unavailable

	// InvalidRequest means the caller's request is missing required input.
	InvalidRequest

	// NoData means the request was valid but produced no rows.
	NoData
)

func (k Kind) String() string {
	switch k {
	case Classification:
		return "classification_failure"
	case Generation:
		return "generation_failure"
	case Execution:
		return "execution_failure"
	case SourceRejection:
		return "source_rejection"
	case Decomposition:
		return "decomposition_failed"
	case PartialFusion:
		return "partial_fusion"
	case Unavailable:
		return "unavailable"
	case InvalidRequest:
		return "invalid_request"
	case NoData:
		return "no_data"
	default:
		return "internal"
	}
}

// ParseKind returns the kind whose String form is s, or Internal.
func ParseKind(s string) Kind {
	for k := Internal; k <= NoData; k++ {
		if k.String() == s {
			return k
		}
	}
	return Internal
}

// Error is a classified failure. Op names the component operation that
// produced it (e.g. "fusion.decompose").
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same kind. This lets callers
// write errors.Is(err, fault.E(fault.Unavailable)).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// E returns a bare sentinel of the given kind for use with errors.Is.
func E(kind Kind) *Error { return &Error{Kind: kind} }

// New creates a classified error with a message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err. If err is already a *Error it is returned with its
// original kind preserved so the innermost classification wins.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or Internal when err is unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// HTTPStatus maps a kind to the status code used at the HTTP boundary.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidRequest:
		return http.StatusBadRequest
	case Decomposition, Generation, Execution, SourceRejection:
		return http.StatusUnprocessableEntity
	case Unavailable:
		return http.StatusServiceUnavailable
	case NoData:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Hint returns a short user-facing suggestion for the kind.
func Hint(kind Kind) string {
	switch kind {
	case Decomposition, Generation, Execution, SourceRejection:
		return "the question could not be answered as asked; try rephrasing it"
	case Unavailable:
		return "an upstream service is unavailable; try again later"
	case InvalidRequest:
		return "the request is missing required input"
	case NoData:
		return "the query was valid but returned no data"
	default:
		return "an internal error occurred"
	}
}
