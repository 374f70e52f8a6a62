// Package dwnerrors defines the structured error taxonomy used across the
// message-processing engine.
package dwnerrors

import "errors"

// Kind is a stable category for programmatic error handling.
//
// These categories map directly to the HTTP-aligned status codes in
// engine/status.go. Callers should branch on Kind/Code rather than matching
// error strings.
//
// NOTE: Error() strings are intentionally kept human-readable and may evolve.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	KindMalformed    Kind = "Malformed"
	KindAuthFailure  Kind = "AuthenticationFailure"
	KindAuthzFailure Kind = "AuthorizationFailure"
	KindNotFound     Kind = "NotFound"
	KindConflict     Kind = "Conflict"
	KindStoreFailure Kind = "StoreFailure"
	KindInternal     Kind = "Internal"
)

// Error is the engine's structured error type.
//
// Code is a stable identifier (e.g. "PermissionsRevokeUnauthorizedRevoke",
// "InitialWriteCollision") that names the violated rule.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New returns a new structured error with no underlying cause.
func New(kind Kind, code, msg string) error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Wrap returns a new structured error wrapping cause.
func Wrap(kind Kind, code, msg string, cause error) error {
	if cause == nil {
		return New(kind, code, msg)
	}
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

// Is reports whether err is (or wraps) a *Error with the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// CodeOf returns the stable Code for a structured error, or "" if unknown.
func CodeOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// KindOf returns the Kind for a structured error, or "" if unknown.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
