package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAccess      = errors.New("media device unavailable or permission denied")
	ErrSignalingPublish = errors.New("signal publish failed")
	ErrSignalingFetch   = errors.New("signal backlog fetch failed")
	ErrCandidateApply   = errors.New("ice candidate could not be applied")
	ErrTransportFailed  = errors.New("peer transport failed")
	ErrClosed           = errors.New("call session closed")
	ErrInvalidRoom      = errors.New("invalid room")

	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrAppointmentNotActive = errors.New("appointment is not approved")
	ErrNotParticipant       = errors.New("user is not a participant of the appointment")
	ErrInvalidTransition    = errors.New("invalid appointment status transition")
	ErrEmptyMessage         = errors.New("message content cannot be empty")
)

// CallError attaches the failing operation to one of the sentinel errors.
type CallError struct {
	Op      string
	Err     error
	Details string
}

func (e *CallError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewCallError(op string, err error) *CallError {
	return &CallError{Op: op, Err: err}
}

func WrapCallError(op string, err error, cause error) *CallError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &CallError{Op: op, Err: err, Details: details}
}
