// Package loomerr defines the closed error taxonomy shared by every Loom
// component: validation, not-found, invalid state transitions, classified
// external failures, IO/corruption, phantom merges, and agent crashes.
package loomerr

import (
	"errors"
	"fmt"
)

// Kind identifies which bucket of the taxonomy an error belongs to.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindAlreadyExists    Kind = "already_exists"
	KindInvalidTransition Kind = "invalid_transition"
	KindExternalTransient Kind = "external_transient"
	KindExternalFatal    Kind = "external_fatal"
	KindIO               Kind = "io"
	KindPhantomMerge     Kind = "phantom_merge"
	KindCrash            Kind = "crash"
)

// Error is the concrete typed error value every classified failure in Loom
// is wrapped in. Code using errors.As can recover Kind without parsing
// strings.
type Error struct {
	Kind    Kind
	Op      string // component/operation that raised it, e.g. "store.save_stage"
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, loomerr.NotFound) style sentinel comparisons by
// matching on Kind when the target is also a *Error with no Op/Message set.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func new(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: cause}
}

func Validation(op, msg string, cause error) *Error { return new(KindValidation, op, msg, cause) }

func NotFound(op, msg string) *Error { return new(KindNotFound, op, msg, nil) }

func AlreadyExists(op, msg string) *Error { return new(KindAlreadyExists, op, msg, nil) }

func InvalidTransition(op string, from, to string) *Error {
	return new(KindInvalidTransition, op, fmt.Sprintf("cannot transition %s -> %s", from, to), nil)
}

func ExternalTransient(op, msg string, cause error) *Error {
	return new(KindExternalTransient, op, msg, cause)
}

func ExternalFatal(op, msg string, cause error) *Error {
	return new(KindExternalFatal, op, msg, cause)
}

func IO(op, msg string, cause error) *Error { return new(KindIO, op, msg, cause) }

func PhantomMerge(op, stageID, commit, target string) *Error {
	return new(KindPhantomMerge, op, fmt.Sprintf("commit %s for stage %s not reachable from %s", commit, stageID, target), nil)
}

func Crash(op, msg string, cause error) *Error { return new(KindCrash, op, msg, cause) }

// OfKind reports whether err (or something it wraps) is a *Error of kind k.
func OfKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Sentinels for package-level errors that don't carry per-call context,
// mirroring the teacher's graph.ErrCycleDetected idiom.
var (
	ErrCycleDetected = errors.New("circular dependency detected")
	ErrSelfDependency = errors.New("stage depends on itself")
)
