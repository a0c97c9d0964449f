package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates a credential the session authority rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionNotFound occurs when a session id has no stored session.
	ErrSessionNotFound = errors.New("session not found")
)
