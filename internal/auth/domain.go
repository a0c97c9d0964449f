package auth

import "time"

// Identity is the verified principal behind a credential.
type Identity struct {
	PrincipalID string
	Role        string
}

// SessionRecord is a stored login session as seen by the authority.
type SessionRecord struct {
	ID        string
	UserID    string
	Role      string
	IsActive  bool
	ExpiresAt time.Time
}
