package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
	_ "github.com/odyssey-erp/gatekeeper/testing"
)

type fixture struct {
	service  *auth.Service
	sessions *shared.SessionManager
	users    *users.MemoryRepository
	audit    *memorySessions
	redis    *miniredis.Miniredis
}

// memorySessions is an in-memory auth.Repository.
type memorySessions struct {
	mu   sync.Mutex
	rows map[string]auth.LoginSession
}

func newMemorySessions() *memorySessions {
	return &memorySessions{rows: make(map[string]auth.LoginSession)}
}

func (m *memorySessions) CreateSession(ctx context.Context, s auth.LoginSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = s
	return nil
}

func (m *memorySessions) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memorySessions) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if s.ExpiresAt.Before(before) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memorySessions) get(id string) (auth.LoginSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	return s, ok
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)

	repo := users.NewMemoryRepository()
	signup := users.NewService(repo, "admin-token").WithHashCost(bcrypt.MinCost)
	ctx := context.Background()
	_, err := signup.Register(ctx, users.SignupInput{Username: "alice", Password: "wonderland", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = signup.Register(ctx, users.SignupInput{Username: "root", Password: "supersecret", Email: "root@example.com", Admin: true, AdminToken: "admin-token"})
	require.NoError(t, err)

	audit := newMemorySessions()
	return &fixture{
		service:  auth.NewService(repo, sessions, audit).WithSessionTTL(time.Hour),
		sessions: sessions,
		users:    repo,
		audit:    audit,
		redis:    mr,
	}
}

func TestLoginRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.service.Login(ctx, "root", "supersecret")
	require.NoError(t, err)
	assert.Equal(t, shared.Identity{Username: "root", Role: roles.Admin}, id)

	ref, err := f.service.Establish(ctx, id)
	require.NoError(t, err)

	got, err := f.service.Identity(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestLoginNormalizesUsername(t *testing.T) {
	f := newFixture(t)
	id, err := f.service.Login(context.Background(), " Alice ", "wonderland")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, roles.User, id.Role)
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Login(ctx, "alice", "not-the-password")
	assert.ErrorIs(t, err, shared.ErrBadCredential)

	_, err = f.service.Login(ctx, "mallory", "whatever1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.NotErrorIs(t, err, shared.ErrBadCredential)

	_, err = f.service.Login(ctx, "", "whatever1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLoginDisabledAccount(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	require.NoError(t, err)
	store := users.NewMemoryRepository()
	require.NoError(t, store.Create(context.Background(), &users.User{Username: "carol", PasswordHash: string(hash), Role: roles.User, IsActive: false}))

	svc := auth.NewService(store, nil, nil)
	_, err = svc.Login(context.Background(), "carol", "password1")
	assert.ErrorIs(t, err, shared.ErrBadCredential)
}

type failingStore struct{ err error }

func (s failingStore) FindByUsername(ctx context.Context, username string) (*users.User, error) {
	return nil, s.err
}

func TestLoginStoreUnavailable(t *testing.T) {
	svc := auth.NewService(failingStore{err: errors.New("connection refused")}, nil, nil)
	_, err := svc.Login(context.Background(), "alice", "wonderland")
	assert.ErrorIs(t, err, shared.ErrUnavailable)
	assert.NotErrorIs(t, err, shared.ErrBadCredential)
	assert.NotErrorIs(t, err, shared.ErrNotFound)
}

// gatedStore blocks lookups until release is closed.
type gatedStore struct {
	user    users.User
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (s *gatedStore) FindByUsername(ctx context.Context, username string) (*users.User, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	select {
	case s.ctxErr <- ctx.Err():
	default:
	}
	u := s.user
	return &u, nil
}

func TestLoginLookupOutlivesCanceledCaller(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("wonderland"), bcrypt.MinCost)
	require.NoError(t, err)
	store := &gatedStore{
		user:    users.User{Username: "alice", PasswordHash: string(hash), Role: roles.User, IsActive: true},
		entered: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
	svc := auth.NewService(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Login(ctx, "alice", "wonderland")
		first <- err
	}()
	<-store.entered

	second := make(chan error, 1)
	go func() {
		identity, err := svc.Login(context.Background(), "alice", "wonderland")
		if err == nil && identity.Username != "alice" {
			err = errors.New("unexpected identity " + identity.Username)
		}
		second <- err
	}()

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller kept waiting on the shared lookup")
	}

	close(store.release)
	select {
	case err := <-second:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second caller never completed")
	}
	assert.NoError(t, <-store.ctxErr)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.service.Login(ctx, "alice", "wonderland")
	require.NoError(t, err)
	ref, err := f.service.Establish(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.service.RecordLogin(ctx, ref, id, "127.0.0.1", "test"))

	for range 2 {
		require.NoError(t, f.service.Logout(ctx, ref))
		got, err := f.service.Identity(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, shared.Anonymous, got)
	}
	_, found := f.audit.get(ref)
	assert.False(t, found)

	assert.NoError(t, f.service.Logout(ctx, ""))
}

func TestLogoutStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.redis.Close()
	err := f.service.Logout(context.Background(), "some-ref")
	assert.ErrorIs(t, err, shared.ErrUnavailable)
}

func TestEstablishRejectsAnonymous(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Establish(context.Background(), shared.Anonymous)
	assert.Error(t, err)
}

func TestRecordLoginAndPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := shared.Identity{Username: "alice", Role: roles.User}
	require.NoError(t, f.service.RecordLogin(ctx, "ref-1", id, "10.0.0.1", "curl"))

	row, ok := f.audit.get("ref-1")
	require.True(t, ok)
	assert.Equal(t, "ROLE_USER", row.Authority)
	assert.WithinDuration(t, row.CreatedAt.Add(time.Hour), row.ExpiresAt, time.Second)

	n, err := f.service.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh session survives")

	require.NoError(t, f.audit.CreateSession(ctx, auth.LoginSession{ID: "old", ExpiresAt: time.Now().Add(-time.Minute)}))
	n, err = f.service.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
