package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies relay failures.
type ErrorKind string

const (
	// ConnectionFailed covers timeouts, unreachable hosts, auth failures and
	// non-zero remote exit statuses.
	ConnectionFailed ErrorKind = "ConnectionFailed"
	// MalformedResponse means the remote side answered but no usable JSON
	// could be recovered from its output.
	MalformedResponse ErrorKind = "MalformedResponse"
	// TransferFailed means a remote file could not be fetched.
	TransferFailed ErrorKind = "TransferFailed"
	// InvalidArgument means the caller supplied a value outside an accepted set.
	InvalidArgument ErrorKind = "InvalidArgument"
)

// RelayError is the error type returned by every relay component.
type RelayError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *RelayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// NewError builds a RelayError; msg is formatted with args.
func NewError(kind ErrorKind, op string, format string, args ...any) *RelayError {
	return &RelayError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind carried by err, or "" if err is not a RelayError.
func KindOf(err error) ErrorKind {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
