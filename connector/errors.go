package connector

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument indicates a malformed constructor argument (a nil or
// empty address list, or a missing Options.Dialer).
var ErrInvalidArgument = errors.New("connector: invalid argument")

// ErrClosed indicates an operation attempted after Close.
var ErrClosed = errors.New("connector: connector is closed")

// NetworkError wraps an I/O failure on a Port's send or receive path. Cause
// is always non-nil and chained with %w so errors.Is/errors.As still reach
// the underlying net.Error.
type NetworkError struct {
	Cause           error
	RetriesWereUsed bool
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("connector: network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// AuthError wraps a failure from Port.CheckAuth.
type AuthError struct {
	DB    string
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("connector: authentication failed for db %q: %v", e.DB, e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// NotMasterExhaustedError indicates every retry was consumed while the
// replica set kept refusing writes/reads as non-primary.
type NotMasterExhaustedError struct {
	Retries int
}

func (e *NotMasterExhaustedError) Error() string {
	return fmt.Sprintf("connector: not-master retries exhausted (retries=%d)", e.Retries)
}

// DuplicateKeyError reports a unique-index violation acknowledged by the
// server (code 11000/11001, or message prefixed E11000/E11001).
type DuplicateKeyError struct {
	Code    int32
	Message string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("connector: duplicate key (code=%d): %s", e.Code, e.Message)
}

// WriteFailureError reports any other non-null acknowledgement error.
type WriteFailureError struct {
	Code    int32
	Message string
}

func (e *WriteFailureError) Error() string {
	return fmt.Sprintf("connector: write failure (code=%d): %s", e.Code, e.Message)
}

// ServerErrorResult surfaces a non-"not master" ServerError embedded in a
// Response, passed through to the caller without retry.
type ServerErrorResult struct {
	Code    int32
	Message string
}

func (e *ServerErrorResult) Error() string {
	return fmt.Sprintf("connector: server error (code=%d): %s", e.Code, e.Message)
}

// InternalError indicates a violated internal invariant — e.g. no master
// reachable in multi-address mode after a forced refresh.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return "connector: internal: " + e.Message
}

func isDuplicateKeyCode(code int32) bool {
	return code == 11000 || code == 11001
}

func hasDuplicateKeyPrefix(message string) bool {
	return len(message) >= 6 && (message[:6] == "E11000" || message[:6] == "E11001")
}
