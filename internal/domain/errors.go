package domain

import "errors"

// Failure taxonomy for the session pipeline. Failures are isolated per
// session: none of these cross a session boundary, and asynchronous ones are
// only reflected in SessionStatus.
var (
	ErrAlreadyExists      = errors.New("session already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrNotConnected       = errors.New("session not connected")
	ErrMaxRetriesExceeded = errors.New("max reconnection attempts exceeded")
	ErrTerminalLogout     = errors.New("session logged out")
	ErrMediaExtraction    = errors.New("media extraction failed")
)
