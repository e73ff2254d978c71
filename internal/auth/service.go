package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
)

// Service wraps authentication business rules.
type Service struct {
	users    UserStore
	sessions SessionStore
	repo     Repository
	ttl      time.Duration
	now      func() time.Time

	lookups   singleflight.Group
	dummyOnce sync.Once
	dummyHash []byte
}

// NewService constructs a new Service. repo may be nil when login
// sessions are not audited.
func NewService(userStore UserStore, sessions SessionStore, repo Repository) *Service {
	return &Service{
		users:    userStore,
		sessions: sessions,
		repo:     repo,
		ttl:      8 * time.Hour,
		now:      time.Now,
	}
}

// WithSessionTTL sets the lifetime recorded for audited login sessions.
func (s *Service) WithSessionTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// Login verifies the credential pair. It fails with shared.ErrNotFound for
// unknown users, shared.ErrBadCredential for a wrong secret or a disabled
// account, and an error wrapping shared.ErrUnavailable when the user store
// cannot be reached.
func (s *Service) Login(ctx context.Context, username, secret string) (shared.Identity, error) {
	user, err := s.lookup(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Spend the same time as a real comparison.
			_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(secret))
			return shared.Anonymous, shared.ErrNotFound
		}
		return shared.Anonymous, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(secret)); err != nil {
		return shared.Anonymous, shared.ErrBadCredential
	}
	if !user.IsActive {
		return shared.Anonymous, shared.ErrBadCredential
	}
	if !roles.Default.Contains(user.Role) {
		return shared.Anonymous, fmt.Errorf("auth: %s has role outside the catalog: %w", user.Username, roles.ErrUnknownRole)
	}
	return shared.Identity{Username: user.Username, Role: user.Role}, nil
}

// Establish creates a store-backed session for identity and returns its
// reference.
func (s *Service) Establish(ctx context.Context, identity shared.Identity) (string, error) {
	if !identity.Authenticated() {
		return "", errors.New("auth: cannot establish an anonymous session")
	}
	return s.sessions.CreateSession(ctx, identity)
}

// Identity resolves the identity bound to ref.
func (s *Service) Identity(ctx context.Context, ref string) (shared.Identity, error) {
	return s.sessions.GetIdentity(ctx, ref)
}

// RecordLogin writes the login-session audit row for ref.
func (s *Service) RecordLogin(ctx context.Context, ref string, identity shared.Identity, ip, userAgent string) error {
	if s.repo == nil {
		return nil
	}
	now := s.now()
	return s.repo.CreateSession(ctx, LoginSession{
		ID:        ref,
		Username:  identity.Username,
		Authority: identity.Authority(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		IP:        ip,
		UserAgent: userAgent,
	})
}

// Logout invalidates ref in the session store and drops its audit row.
// Logging out an unknown or already invalidated session succeeds.
func (s *Service) Logout(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	if err := s.sessions.Invalidate(ctx, ref); err != nil {
		return err
	}
	if s.repo != nil {
		if err := s.repo.DeleteSession(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// PurgeExpired removes audited sessions that expired before now.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	if s.repo == nil {
		return 0, nil
	}
	return s.repo.PurgeExpired(ctx, s.now())
}

// lookup coalesces concurrent lookups of the same username. The shared
// call is detached from any single caller's cancellation; each caller
// still stops waiting when its own ctx is done.
func (s *Service) lookup(ctx context.Context, username string) (*users.User, error) {
	key := users.NormalizeUsername(username)
	if key == "" {
		return nil, shared.ErrNotFound
	}
	detached := context.WithoutCancel(ctx)
	ch := s.lookups.DoChan(key, func() (any, error) {
		return s.users.FindByUsername(detached, key)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("auth: lookup %s: %w", key, ctx.Err())
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("auth: lookup %s: %w: %w", key, shared.ErrUnavailable, err)
	}
	user := *v.(*users.User)
	return &user, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("gatekeeper-dummy-secret"), bcrypt.DefaultCost)
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}
