package grader

import (
	"errors"

	"golang.org/x/text/message"
)

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrActivityNotFound    = errors.New("activity not found")
	ErrActivityNotGradable = errors.New("activity not gradable")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrStudentNotFound     = errors.New("student not found")
	ErrAmbiguousStudent    = errors.New("ambiguous student")
	ErrNoGradeUpdater      = errors.New("no grade update routine")
)

// Error is a hard failure of a call. Code is the message key (and the
// errorcode reported to remote callers); Args fill in the message.
type Error struct {
	Kind error
	Code string
	Args []interface{}
}

func newError(kind error, code string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Args: args}
}

func (e *Error) Error() string {
	return e.Localize(DefaultPrinter())
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Localize renders the message in the printer's language.
func (e *Error) Localize(p *message.Printer) string {
	return p.Sprintf(e.Code, e.Args...)
}
