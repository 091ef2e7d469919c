package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies turn failures for the caller.
type Kind string

const (
	// KindValidation marks an empty or malformed request.
	KindValidation Kind = "validation_error"
	// KindNotFound marks an unknown conversation id.
	KindNotFound Kind = "not_found"
	// KindUpstream marks a capability call that failed after retry.
	// The caller may retry the whole turn; nothing was persisted.
	KindUpstream Kind = "upstream_error"
	// KindInternal marks a storage failure or invariant violation.
	KindInternal Kind = "internal_error"
)

// Error is the single failure type returned by the coordinator.
type Error struct {
	Kind  Kind
	Stage string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable feeds the reliability classifier: only upstream failures are
// worth retrying from the caller's side.
func (e *Error) Retryable() bool { return e.Kind == KindUpstream }

func validationErr(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func notFoundErr(id string) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("conversation %s", id)}
}

func upstreamErr(stage string, err error) *Error {
	return &Error{Kind: KindUpstream, Stage: stage, Msg: "capability call failed", Err: err}
}

func internalErr(stage string, err error) *Error {
	return &Error{Kind: KindInternal, Stage: stage, Msg: "pipeline invariant violated", Err: err}
}

// KindOf extracts the failure kind, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
