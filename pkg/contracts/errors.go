package contracts

import "fmt"

// The error taxonomy. Every failure surfaced across component boundaries is
// one of these kinds so callers can branch with errors.As and the CLI can map
// kinds to exit codes.

// ErrorKind classifies an engine error.
type ErrorKind string

const (
	KindParse       ErrorKind = "parse"
	KindSchema      ErrorKind = "schema"
	KindConfig      ErrorKind = "config"
	KindRegistry    ErrorKind = "registry"
	KindGovernance  ErrorKind = "governance"
	KindPolicy      ErrorKind = "policy_blocked"
	KindTransientIO ErrorKind = "transient_io"
	KindCancelled   ErrorKind = "cancelled"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError classifies an underlying error.
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the taxonomy kind of err, or "" when err is unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Kind
}
