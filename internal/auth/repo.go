package auth

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-live/internal/shared"
)

// Repository defines session lookups used for verification.
type Repository interface {
	FindSession(ctx context.Context, id string) (*SessionRecord, error)
}

// RedisRepository reads sessions from the Redis session store written by
// the login flow. Expiry is enforced by the key TTL.
type RedisRepository struct {
	sessions *shared.SessionManager
}

// NewRedisRepository constructs a Redis backed repository.
func NewRedisRepository(sessions *shared.SessionManager) *RedisRepository {
	return &RedisRepository{sessions: sessions}
}

// FindSession fetches a session by id.
func (r *RedisRepository) FindSession(ctx context.Context, id string) (*SessionRecord, error) {
	sess, err := r.sessions.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SessionRecord{
		ID:       sess.ID,
		UserID:   sess.User(),
		Role:     sess.Role(),
		IsActive: true,
	}, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PostgreSQL repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const findSessionSQL = `
SELECT s.user_id, u.is_active, s.expires_at, COALESCE(r.name, '')
FROM sessions s
JOIN users u ON u.id = s.user_id
LEFT JOIN user_roles ur ON ur.user_id = u.id
LEFT JOIN roles r ON r.id = ur.role_id
WHERE s.id = $1
ORDER BY r.name
LIMIT 1`

// FindSession fetches a session joined with the user's role.
func (r *PGRepository) FindSession(ctx context.Context, id string) (*SessionRecord, error) {
	var (
		userID    int64
		active    bool
		expiresAt pgtype.Timestamptz
		role      string
	)
	err := r.pool.QueryRow(ctx, findSessionSQL, id).Scan(&userID, &active, &expiresAt, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	record := &SessionRecord{
		ID:       id,
		UserID:   strconv.FormatInt(userID, 10),
		Role:     role,
		IsActive: active,
	}
	if expiresAt.Valid {
		record.ExpiresAt = expiresAt.Time
	}
	return record, nil
}

var (
	_ Repository = (*RedisRepository)(nil)
	_ Repository = (*PGRepository)(nil)
)
