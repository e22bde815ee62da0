// Package common provides shared constants, types, and utilities
// used across the OpenVPN3 Manager application.
package common

import "errors"

// Sentinel errors for manager and store operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Process gateway errors.
	ErrTimeout      = errors.New("command timed out")
	ErrLaunchFailed = errors.New("failed to launch command")

	// Session errors.
	ErrNotConnected = errors.New("no active session")
	ErrAuthRejected = errors.New("authentication rejected")

	// Configuration errors.
	ErrNoConfigs      = errors.New("no configurations available")
	ErrConfigNotFound = errors.New("configuration not found")
	ErrValidation     = errors.New("validation failed")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrBackendLocked       = errors.New("secret service is locked")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrDecryption          = errors.New("decryption error")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
