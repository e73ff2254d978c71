package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Repository records login sessions for auditing.
type Repository interface {
	CreateSession(ctx context.Context, session LoginSession) error
	DeleteSession(ctx context.Context, id string) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db shared.Execer
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(db shared.Execer) *PGRepository {
	return &PGRepository{db: db}
}

// CreateSession persists a new login session.
func (r *PGRepository) CreateSession(ctx context.Context, s LoginSession) error {
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO user_sessions (id, username, authority, created_at, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))`,
		s.ID, s.Username, s.Authority, created.UTC(), s.ExpiresAt.UTC(), s.IP, s.UserAgent)
	if err != nil {
		return fmt.Errorf("auth: create session: %w: %w", shared.ErrUnavailable, err)
	}
	return nil
}

// DeleteSession removes a session record. Missing rows are not an error.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("auth: delete session: %w: %w", shared.ErrUnavailable, err)
	}
	return nil
}

// PurgeExpired deletes sessions that expired before the given instant and
// reports how many were removed.
func (r *PGRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("auth: purge sessions: %w: %w", shared.ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
