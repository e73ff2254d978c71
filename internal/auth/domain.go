package auth

import (
	"context"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
)

// LoginSession is the audit row written for each successful login.
type LoginSession struct {
	ID        string
	Username  string
	Authority string
	CreatedAt time.Time
	ExpiresAt time.Time
	IP        string
	UserAgent string
}

// UserStore looks up account records by username.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*users.User, error)
}

// SessionStore binds identities to session references.
type SessionStore interface {
	GetIdentity(ctx context.Context, ref string) (shared.Identity, error)
	CreateSession(ctx context.Context, identity shared.Identity) (string, error)
	Invalidate(ctx context.Context, ref string) error
}
