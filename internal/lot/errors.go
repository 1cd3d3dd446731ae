package lot

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error code surfaced to callers.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindForbidden         Kind = "FORBIDDEN"
	KindInvalidStatus     Kind = "INVALID_STATUS"
	KindInvalidCondition  Kind = "INVALID_CONDITION"
	KindMissingFields     Kind = "MISSING_FIELDS"
	KindInvalidReason     Kind = "INVALID_REASON"
	KindInvalidPriority   Kind = "INVALID_PRIORITY"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindTokenExpired      Kind = "TOKEN_EXPIRED"
	KindTokenNotFound     Kind = "TOKEN_NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
)

// Error pairs a Kind with a human-readable message. errors.Is matches any two
// *Error values of the same Kind, so callers compare against the sentinels
// below regardless of the message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidStatus     = &Error{Kind: KindInvalidStatus, Message: "invalid status"}
	ErrInvalidCondition  = &Error{Kind: KindInvalidCondition, Message: "invalid condition"}
	ErrMissingFields     = &Error{Kind: KindMissingFields, Message: "missing required fields"}
	ErrInvalidReason     = &Error{Kind: KindInvalidReason, Message: "invalid replacement reason"}
	ErrInvalidPriority   = &Error{Kind: KindInvalidPriority, Message: "invalid priority"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrTokenExpired      = &Error{Kind: KindTokenExpired, Message: "access token expired"}
	ErrTokenNotFound     = &Error{Kind: KindTokenNotFound, Message: "access token not found"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "concurrent update conflict"}
)

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind carried by err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
