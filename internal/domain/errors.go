package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict matches any ConflictError.
	ErrConflict          = errors.New("session already active for meeting")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionEnded      = errors.New("session has ended")
	ErrInvalidTransition = errors.New("invalid session transition")
)

// ConflictError is returned when a meeting already has an active session.
// Callers should attach to SessionID instead of retrying.
type ConflictError struct {
	MeetingID string
	SessionID string
}

func (e *ConflictError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("meeting %s: %v", e.MeetingID, ErrConflict)
	}
	return fmt.Sprintf("meeting %s: %v (session %s)", e.MeetingID, ErrConflict, e.SessionID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StreamError reports a provider disconnect or stream failure.
type StreamError struct {
	Provider string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s stream: %v", e.Provider, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// ParseError reports an unusable terminology response.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse terminology response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write to the session gateway.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransitionError describes a lifecycle operation rejected in the current state.
type TransitionError struct {
	Op   string
	From SessionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s", ErrInvalidTransition, e.Op, e.From)
}

func (e *TransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	return target == ErrSessionEnded && e.From == SessionStatusEnded
}
