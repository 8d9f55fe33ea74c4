// Package api defines the wire-level types and error taxonomy shared by
// every CTI component: the Frontend façade, the WLM drivers, the supervisor
// helper, and the back-end accessors.
package api

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure surfaced across the public API
// boundary. Kinds are part of the contract: callers switch on them instead of
// on error strings.
type Kind int

const (
	// KindUsage covers invalid handles, modify-after-ship, double-release,
	// and calling a registration entry point against the wrong WLM.
	KindUsage Kind = iota + 1
	// KindWlm covers any failure reported by a WLM primitive.
	KindWlm
	// KindStaging covers name collisions, invalid file types, missing
	// files, and PATH/LD_LIBRARY_PATH resolution failures.
	KindStaging
	// KindInferior covers MPIR attach/read/release failures.
	KindInferior
	// KindHelper covers supervisor helper pipe closure, bad handshake, and
	// unknown request tags.
	KindHelper
	// KindEnv covers unreadable config directories, bad permissions, and a
	// missing install directory.
	KindEnv
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "UsageError"
	case KindWlm:
		return "WlmError"
	case KindStaging:
		return "StagingError"
	case KindInferior:
		return "InferiorError"
	case KindHelper:
		return "HelperError"
	case KindEnv:
		return "EnvError"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type returned (wrapped) by every CTI entry
// point. Its Kind is stable across library versions; its message is not.
type Error struct {
	Kind Kind
	Msg  string
	// Cause, when set, is the underlying error this one wraps (the WLM
	// tool's captured stderr, a syscall error, a decode failure, ...).
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing error,
// preserving it as the Cause so errors.Is/errors.As keep working.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}

	return 0, false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
