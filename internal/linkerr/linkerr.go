// Package linkerr defines the tagged error kinds used throughout the linker
// pipeline. Every fallible operation returns one of these, wrapping a
// sentinel error with fmt.Errorf-style context so callers can still use
// errors.Is/errors.As against the sentinel while humans get a readable
// message and a full source chain.
package linkerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the stage of the link that produced it, per
// the error-handling design: every error belongs to exactly one kind.
type Kind int

const (
	// KindConfiguration covers bad CLI input, mutually exclusive modes, and
	// missing required values.
	KindConfiguration Kind = iota
	// KindInput covers file-open, magic-number mismatches, and parse
	// failures in ELF or archive structure.
	KindInput
	// KindSemantic covers load-time mismatches: environment, perms, dedup
	// policy, section types, unknown notes/sections, unsupported symbol
	// attributes.
	KindSemantic
	// KindLinking covers symbol resolution failures: duplicate globals,
	// missing globals, undefined symbols surviving to relocation.
	KindLinking
	// KindRelocation covers relocation-time failures: unsupported types,
	// out-of-bounds access, overflow, invalid symbol kinds for a
	// relocation.
	KindRelocation
	// KindLayout covers entry-point resolution failures.
	KindLayout
	// KindOutput covers ELF-serialization consistency failures.
	KindOutput
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInput:
		return "input"
	case KindSemantic:
		return "semantic"
	case KindLinking:
		return "linking"
	case KindRelocation:
		return "relocation"
	case KindLayout:
		return "layout"
	case KindOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Error is a tagged error with a source chain. It is never constructed
// directly outside this package; use New or Wrap.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.err)
	}
	return e.msg
}

// Unwrap exposes the wrapped error (if any) to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.err
}

// New creates a Kind-tagged error with no wrapped cause.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a Kind-tagged error that wraps cause, preserving it for
// errors.Is/errors.As while attaching human-readable context.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

// KindOf reports the Kind of err, if err (or something it wraps) is a
// *Error. It returns ok=false for errors that never passed through New or
// Wrap.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
