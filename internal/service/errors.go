package service

import (
	"errors"
)

// Kind classifies an Engine failure.  Handlers map kinds to HTTP status
// codes; nothing else about the error is inspected.
type Kind int

const (
	KindInternal Kind = iota
	KindAuth
	KindForbidden
	KindNotFound
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	}
	return "internal"
}

// ErrUnknownPrincipal is returned when a valid token names a user that no
// longer exists.
var ErrUnknownPrincipal = errors.New("unknown principal")

// Error is the error type returned by every Engine operation.  Msg is safe
// to show to clients; Err, when set, is the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindInternal when err is not an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func fail(kind Kind, msg string) error { return &Error{Kind: kind, Msg: msg} }

func wrap(kind Kind, msg string, err error) error { return &Error{Kind: kind, Msg: msg, Err: err} }

func internal(err error) error { return &Error{Kind: KindInternal, Msg: "internal error", Err: err} }
