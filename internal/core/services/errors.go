package services

import "errors"

var (
	// ErrAborted indicates the user declined a confirmation prompt. It is
	// a clean no-op exit, not a failure.
	ErrAborted = errors.New("aborted by user")
)
