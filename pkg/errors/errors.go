// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the moderation and verification services
// wraps exactly one of these, so callers branch with errors.Is.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrInvalidState           = errors.New("invalid state")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrSideEffect             = errors.New("side effect failed")
)

// Entity errors
var (
	ErrListingNotFound      = fmt.Errorf("listing %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrDocumentNotFound     = fmt.Errorf("document %w", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)

	ErrDuplicateRequest = errors.New("duplicate request in progress")
	ErrLockNotObtained  = fmt.Errorf("lock not obtained: %w", ErrConcurrentModification)
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Validation returns an ErrValidation with a message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InvalidState returns an ErrInvalidState with a message.
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// ConcurrentModification returns an ErrConcurrentModification with a message.
func ConcurrentModification(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConcurrentModification, fmt.Sprintf(format, args...))
}

// SideEffect wraps a notification or audit failure.
func SideEffect(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrSideEffect, message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
