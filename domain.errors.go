package main

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is raised before any network call when the
// authorization oracle rejects the requested capability.
var ErrPermissionDenied = errors.New("permission denied")

type missingFieldError string

func (m missingFieldError) Error() string {
	return string(m) + " is required"
}

// RemoteError is the structured failure returned by a record store.
// Message is short and user-facing material; Code and Detail carry the
// backend diagnostic and are meant for logs only.
type RemoteError struct {
	Op      string
	Table   string
	Status  int
	Code    string
	Message string
	Detail  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("record store: %s on %q failed: %s", e.Op, e.Table, e.Message)
}

// NewRemoteError builds a RemoteError for the given operation and table.
func NewRemoteError(op, table string, status int, code, message, detail string) *RemoteError {
	return &RemoteError{
		Op:      op,
		Table:   table,
		Status:  status,
		Code:    code,
		Message: message,
		Detail:  detail,
	}
}

// denied wraps ErrPermissionDenied with the capability that was refused.
func denied(capability string) error {
	return fmt.Errorf("%s: %w", capability, ErrPermissionDenied)
}
