package realtime

import "errors"

var (
	// ErrAuthentication indicates the session authority rejected the credential.
	ErrAuthentication = errors.New("realtime: authentication failed")
	// ErrNotAuthenticated occurs when a connection acts before authenticating.
	ErrNotAuthenticated = errors.New("realtime: connection not authenticated")
	// ErrAccessDenied indicates the access gate refused a channel join.
	ErrAccessDenied = errors.New("realtime: access denied")
	// ErrUnknownChannel indicates a channel name outside the catalog.
	ErrUnknownChannel = errors.New("realtime: unknown channel")
	// ErrUnknownConnection indicates a transport id with no live connection.
	ErrUnknownConnection = errors.New("realtime: unknown connection")
	// ErrDuplicateConnection occurs when a transport id is registered twice.
	ErrDuplicateConnection = errors.New("realtime: duplicate connection")
	// ErrInvalidMessage indicates a malformed inbound frame.
	ErrInvalidMessage = errors.New("realtime: invalid message")
)
