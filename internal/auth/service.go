package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-live/internal/shared"
)

// Authority verifies a connection credential.
type Authority interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// Service wraps credential verification rules over a session repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Verify resolves a session credential into an identity. Any lookup failure,
// inactive user, expired session or missing role is reported as
// shared.ErrInvalidCredentials; infrastructure errors are returned as-is so
// callers can tell them apart from a bad credential.
func (s *Service) Verify(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, shared.ErrInvalidCredentials
	}
	record, err := s.repo.FindSession(ctx, credential)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrSessionNotFound) {
			return Identity{}, shared.ErrInvalidCredentials
		}
		return Identity{}, err
	}
	if !record.IsActive || record.UserID == "" || record.Role == "" {
		return Identity{}, shared.ErrInvalidCredentials
	}
	if !record.ExpiresAt.IsZero() && !record.ExpiresAt.After(s.now()) {
		return Identity{}, shared.ErrInvalidCredentials
	}
	return Identity{PrincipalID: record.UserID, Role: record.Role}, nil
}

var _ Authority = (*Service)(nil)
