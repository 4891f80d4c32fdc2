// Package errkind assigns every error surfaced by sdqctl one of the
// kinds enumerated in spec §7, and carries the file/session/step
// context a user-visible failure report needs. No example repo in the
// corpus ships a typed-error-kind library (the teacher uses plain
// fmt.Errorf/%w and a couple of ad hoc sentinel types), so this builds
// directly on the standard library's errors package rather than
// reaching for a third-party errors library that nothing in the pack
// demonstrates.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy from spec §7.
type Kind string

const (
	Parse                 Kind = "parse"
	Validation             Kind = "validation"
	AdapterUnavailable      Kind = "adapter_unavailable"
	ModelUnsupported        Kind = "model_unsupported"
	SessionError            Kind = "session_error"
	RunError                Kind = "run_error"
	VerifyFailure           Kind = "verify_failure"
	RateLimited            Kind = "rate_limited"
	CompactionIneffective  Kind = "compaction_ineffective"
	ConsultExpired          Kind = "consult_expired"
	LoopDetected            Kind = "loop_detected"
	StopFileRequested       Kind = "stop_file_requested"
	Cancelled              Kind = "cancelled"
	Internal               Kind = "internal"

	// Paused is not a failure: it is how a PAUSE step or a Consult
	// awaiting an answer is surfaced through the same reporting path
	// (spec §7 propagation policy — "produce a checkpoint and exit").
	Paused Kind = "paused"
)

// Fatal reports whether errors of this kind always abort the run,
// independent of any local on-error policy (spec §7 propagation policy).
func (k Kind) Fatal() bool {
	switch k {
	case RunError, VerifyFailure, CompactionIneffective:
		return false // local: governed by on-error policy / advisory only
	default:
		return true
	}
}

// Error is a user-visible failure: severity, kind, location, and the
// session/step context a report needs (spec §7 "User-visible failures").
type Error struct {
	Kind       Kind
	Message    string
	File       string
	Line       int
	Col        int
	SessionID  string
	Cycle      int
	StepIndex  int
	Remedy     string
	Cause      error
}

func (e *Error) Error() string {
	loc := ""
	if e.File != "" {
		loc = fmt.Sprintf(" at %s", e.location())
	}
	msg := fmt.Sprintf("[%s]%s: %s", e.Kind, loc, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) location() string {
	if e.Line <= 0 {
		return e.File
	}
	if e.Col <= 0 {
		return fmt.Sprintf("%s:%d", e.File, e.Line)
	}
	return fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Col)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind wrapping cause.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithLocation attaches file:line:col.
func (e *Error) WithLocation(file string, line, col int) *Error {
	e.File, e.Line, e.Col = file, line, col
	return e
}

// WithSession attaches session id, cycle, and step index.
func (e *Error) WithSession(sessionID string, cycle, stepIndex int) *Error {
	e.SessionID, e.Cycle, e.StepIndex = sessionID, cycle, stepIndex
	return e
}

// WithRemedy attaches a suggested remediation string.
func (e *Error) WithRemedy(remedy string) *Error {
	e.Remedy = remedy
	return e
}

// As reports whether err (or any error it wraps) is an *Error, and
// returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// OfKind reports whether err wraps an *Error of the given kind.
func OfKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// ExitCode maps an error (or nil, for success) to the CLI exit code
// contract of spec §6: 0 success, 1 workflow error, 2 missing context
// (strict), 3 rate-limited/consult-expired, 4 cancelled, 5 paused.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e, ok := As(err)
	if !ok {
		return 1
	}
	switch e.Kind {
	case Validation:
		return 2
	case RateLimited, ConsultExpired:
		return 3
	case Cancelled:
		return 4
	case Paused:
		return 5
	default:
		return 1
	}
}
