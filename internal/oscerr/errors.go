// Package oscerr defines the typed error model shared by the schema
// parser, the differ and the copy engine. Every error surfaced to the
// user carries a Kind, which maps to the process exit code.
package oscerr

import (
	"database/sql/driver"
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// Kind classifies an error for propagation and exit-code mapping.
type Kind int

const (
	// ParseError: the CREATE TABLE input could not be parsed.
	ParseError Kind = iota + 1
	// ValidationError: the schema diff was rejected by policy.
	ValidationError
	// PreconditionError: a pre-flight check failed (missing table, no PK,
	// engine mismatch, leftover artifacts).
	PreconditionError
	// TransientDBError: a retryable database error (deadlock, lock wait
	// timeout, connection hiccup).
	TransientDBError
	// FatalDBError: a database error that must not be retried.
	FatalDBError
	// IOError: outfile or hook file I/O failure.
	IOError
	// CancelledError: the run was interrupted by a signal or cleanup kill.
	CancelledError
	// CleanupError: cleanup itself failed; the state file is preserved.
	CleanupError
)

func (k Kind) String() string {
	switch k {
	case ParseError:
		return "ParseError"
	case ValidationError:
		return "ValidationError"
	case PreconditionError:
		return "PreconditionError"
	case TransientDBError:
		return "TransientDBError"
	case FatalDBError:
		return "FatalDBError"
	case IOError:
		return "IOError"
	case CancelledError:
		return "CancelledError"
	case CleanupError:
		return "CleanupError"
	default:
		return "UnknownError"
	}
}

// ExitCode maps the error kind to the documented process exit code:
// 1 validation/parse, 2 runtime, 3 cleanup-needed.
func (k Kind) ExitCode() int {
	switch k {
	case ParseError, ValidationError, PreconditionError:
		return 1
	case CleanupError:
		return 3
	default:
		return 2
	}
}

// Error is a kinded error with an optional SQL state and cause.
type Error struct {
	Kind     Kind
	Msg      string
	SQLState string // MySQL SQLSTATE of the primary cause, when known
	Line     int    // 1-based, ParseError only
	Column   int    // 1-based, ParseError only
	cause    error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Line > 0 {
		s = fmt.Sprintf("%s at line %d column %d", s, e.Line, e.Column)
	}
	if e.SQLState != "" {
		s = fmt.Sprintf("%s [%s]", s, e.SQLState)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a kinded error from a format string.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: cause}
	var myerr *mysqldriver.MySQLError
	if errors.As(cause, &myerr) && myerr.SQLState != [5]byte{} {
		e.SQLState = string(myerr.SQLState[:])
	}
	return e
}

// NewParse builds a ParseError carrying a statement position.
func NewParse(line, column int, format string, args ...any) *Error {
	return &Error{
		Kind:   ParseError,
		Msg:    fmt.Sprintf(format, args...),
		Line:   line,
		Column: column,
	}
}

// KindOf extracts the Kind from an error chain; unclassified errors
// report FatalDBError so callers fail safe.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return FatalDBError
}

// Is lets errors.Is match on bare kinds via sentinel comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == ""
}

// Sentinel returns a matcher for errors.Is against a kind.
func Sentinel(kind Kind) error { return &Error{Kind: kind} }

// Retryable MySQL server error numbers. 1205 is lock wait timeout, 1213
// deadlock, 1206 lock table full.
var retryableMySQLErrnos = map[uint16]bool{
	1205: true,
	1206: true,
	1213: true,
}

// ClassifyDB wraps a database error as transient or fatal. Deadlocks,
// lock wait timeouts and dropped connections are transient; everything
// else is fatal.
func ClassifyDB(cause error, format string, args ...any) *Error {
	kind := FatalDBError
	var myerr *mysqldriver.MySQLError
	switch {
	case errors.As(cause, &myerr) && retryableMySQLErrnos[myerr.Number]:
		kind = TransientDBError
	case errors.Is(cause, driver.ErrBadConn), errors.Is(cause, mysqldriver.ErrInvalidConn):
		kind = TransientDBError
	}
	return Wrap(kind, cause, format, args...)
}
