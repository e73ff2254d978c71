package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/gatekeeper/internal/roles"
)

// SavedRequestKey holds the URL an anonymous caller asked for before being
// sent to the login page.
const SavedRequestKey = "saved_request"

// FlashMessage represents a one-time notification stored in session.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager orchestrates cookie based sessions backed by Redis.
// Each session lives under its own key, so writes to one session never
// touch another.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	secret     []byte
}

// Session holds per-request session data.
type Session struct {
	ID        string
	values    map[string]string
	identity  Identity
	flashes   []FlashMessage
	previous  string
	isNew     bool
	dirty     bool
	destroyed bool
}

type sessionPayload struct {
	Values    map[string]string `json:"values"`
	Username  string            `json:"username,omitempty"`
	Authority string            `json:"authority,omitempty"`
	Flashes   []FlashMessage    `json:"flashes"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		secret:     []byte(secret),
	}
}

// Load loads or creates a new session for request.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	ref := sm.SessionRef(r)
	if ref == "" {
		return sm.newSession(), nil
	}

	stored, found, err := sm.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !found {
		// Unknown or expired id: never adopt a client supplied id.
		return sm.newSession(), nil
	}

	sess := sm.newSession()
	sess.ID = ref
	sess.values = stored.Values
	if sess.values == nil {
		sess.values = make(map[string]string)
	}
	sess.identity = stored.identity()
	sess.flashes = stored.Flashes
	sess.isNew = false
	sess.dirty = false
	return sess, nil
}

// SessionRef extracts the session reference carried by the request.
func (sm *SessionManager) SessionRef(r *http.Request) string {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Commit persists the session and writes cookie headers as needed.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.previous != "" {
		if err := sm.Invalidate(ctx, sess.previous); err != nil {
			return err
		}
		sess.previous = ""
	}

	if sess.destroyed {
		if err := sm.Invalidate(ctx, sess.ID); err != nil {
			return err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteStrictMode,
		})
		return nil
	}

	if sess.ID == "" {
		sess.ID = sm.generateSessionID()
	}

	if sess.dirty || sess.isNew {
		if err := sm.store(ctx, sess.ID, sess.payload()); err != nil {
			return err
		}
		sess.dirty = false
		sess.isNew = false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sm.ttl),
	})

	// Flashes are delivered once.
	if len(sess.flashes) > 0 {
		sess.flashes = nil
		if err := sm.store(ctx, sess.ID, sess.payload()); err != nil {
			return err
		}
	}
	return nil
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// GetIdentity returns the identity bound to ref. Unknown or expired
// sessions resolve to Anonymous.
func (sm *SessionManager) GetIdentity(ctx context.Context, ref string) (Identity, error) {
	if ref == "" {
		return Anonymous, nil
	}
	stored, found, err := sm.fetch(ctx, ref)
	if err != nil {
		return Anonymous, err
	}
	if !found {
		return Anonymous, nil
	}
	return stored.identity(), nil
}

// CreateSession stores a fresh session bound to identity and returns its
// reference.
func (sm *SessionManager) CreateSession(ctx context.Context, identity Identity) (string, error) {
	ref := sm.generateSessionID()
	payload := sessionPayload{Values: map[string]string{}}
	payload.setIdentity(identity)
	if err := sm.store(ctx, ref, payload); err != nil {
		return "", err
	}
	return ref, nil
}

// Invalidate deletes the session. Deleting a missing session is not an
// error.
func (sm *SessionManager) Invalidate(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	if err := sm.client.Del(ctx, sm.redisKey(ref)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("shared: delete session: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) fetch(ctx context.Context, ref string) (sessionPayload, bool, error) {
	data, err := sm.client.Get(ctx, sm.redisKey(ref)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sessionPayload{}, false, nil
		}
		return sessionPayload{}, false, fmt.Errorf("shared: load session: %w: %w", ErrUnavailable, err)
	}
	var stored sessionPayload
	if err := json.Unmarshal(data, &stored); err != nil {
		return sessionPayload{}, false, fmt.Errorf("shared: decode session: %w", err)
	}
	return stored, true, nil
}

func (sm *SessionManager) store(ctx context.Context, ref string, payload sessionPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := sm.client.Set(ctx, sm.redisKey(ref), data, sm.ttl).Err(); err != nil {
		return fmt.Errorf("shared: save session: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Session helpers

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if s.values == nil {
		return
	}
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SetIdentity binds identity to the session.
func (s *Session) SetIdentity(id Identity) {
	s.identity = id
	s.dirty = true
}

// Identity returns the identity bound to the session.
func (s *Session) Identity() Identity {
	return s.identity
}

// Regenerate moves the session to a fresh id; the old id is deleted on
// commit.
func (s *Session) Regenerate(sm *SessionManager) {
	if !s.isNew && s.ID != "" {
		s.previous = s.ID
	}
	s.ID = sm.generateSessionID()
	s.isNew = true
	s.dirty = true
}

// AddFlash queues a flash message.
func (s *Session) AddFlash(msg FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.dirty = true
}

// PopFlash retrieves and clears the oldest flash message.
func (s *Session) PopFlash() *FlashMessage {
	if len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.dirty = true
	return &msg
}

func (s *Session) payload() sessionPayload {
	p := sessionPayload{Values: s.values, Flashes: s.flashes}
	p.setIdentity(s.identity)
	return p
}

func (p *sessionPayload) setIdentity(id Identity) {
	if !id.Authenticated() {
		p.Username, p.Authority = "", ""
		return
	}
	p.Username = id.Username
	p.Authority = roles.AuthorityOf(id.Role)
}

// identity decodes the stored principal. Records with an authority
// outside the catalog are treated as anonymous.
func (p sessionPayload) identity() Identity {
	if p.Username == "" {
		return Anonymous
	}
	role, err := roles.FromAuthority(p.Authority)
	if err != nil {
		return Anonymous
	}
	return Identity{Username: p.Username, Role: role}
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		ID:     sm.generateSessionID(),
		values: make(map[string]string),
		isNew:  true,
		dirty:  true,
	}
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}

func (sm *SessionManager) generateSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	if len(sm.secret) > 0 {
		for i := range b {
			b[i] ^= sm.secret[i%len(sm.secret)]
		}
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
