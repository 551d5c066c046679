package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed input. It is always raised before any I/O.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func NewValidationError(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError carries every human-readable reason plus an optional suggested slot.
// Race is set when the conflict was detected by the in-transaction re-check.
type ConflictError struct {
	Reasons    []string
	Suggestion *SlotRef
	Race       bool
}

func (e *ConflictError) Error() string {
	if len(e.Reasons) == 0 {
		return "conflict"
	}
	return strings.Join(e.Reasons, "; ")
}

func NewConflictError(reasons ...string) error {
	return &ConflictError{Reasons: reasons}
}
