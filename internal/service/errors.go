package service

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateIdentity is returned when a username or email is already taken.
	ErrDuplicateIdentity = errors.New("username or email already registered")
	// ErrNoPendingSignup is returned when no signup is bound to the session.
	ErrNoPendingSignup = errors.New("no pending signup for this session")
	// ErrCodeMismatch is returned when the submitted code differs from the issued one.
	ErrCodeMismatch = errors.New("verification code does not match")
	// ErrCodeExpired is returned when the code's validity window has elapsed.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrAlreadyConsumed is returned when the code was already used.
	ErrAlreadyConsumed = errors.New("verification code already used")
	// ErrTooManyAttempts is returned once a code has been guessed wrong too often.
	// A fresh code must be requested.
	ErrTooManyAttempts = errors.New("too many wrong verification codes, request a new one")
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEventNotFound is returned when a referenced event does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrEventCancelled is returned when registering for a cancelled event.
	ErrEventCancelled = errors.New("event is cancelled")
	// ErrDeadlinePassed is returned when the registration deadline is over.
	ErrDeadlinePassed = errors.New("registration deadline has passed")
	// ErrCapacityReached is returned when the event is full.
	ErrCapacityReached = errors.New("event capacity reached")
	// ErrNotAnOwner is returned when a non-owner tries an owner-only action.
	ErrNotAnOwner = errors.New("only event owners may do this")
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
