// Package apperr defines the error kinds from spec.md §7 as sentinel
// values so call sites can classify failures with errors.Is/errors.As
// instead of string-matching messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds enumerated in spec.md §7.
type Kind string

const (
	KindConfig         Kind = "ConfigError"
	KindTransport      Kind = "Transport"
	KindOAuth          Kind = "OAuthError"
	KindUnknownState   Kind = "UnknownState"
	KindNoToken        Kind = "NoToken"
	KindUnknownAccount Kind = "UnknownAccount"
	KindShutdown       Kind = "Shutdown"
)

// Error wraps an underlying cause with its spec.md §7 Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is allows errors.Is(err, apperr.KindNoToken) to work by comparing kinds,
// not pointer identity, when the sentinel on the right is a bare Kind
// wrapped with New and has no message of its own.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err, if any, defaulting to "" when err does
// not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
