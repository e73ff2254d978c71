package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// MemoryRepository keeps accounts in process memory. It backs tests and
// local development without a database.
type MemoryRepository struct {
	mu     sync.RWMutex
	users  map[string]User
	nextID int64
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]User), nextID: 1}
}

// FindByUsername returns a copy of the stored user.
func (m *MemoryRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[NormalizeUsername(username)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &user, nil
}

// Create stores user, rejecting duplicate usernames.
func (m *MemoryRepository) Create(ctx context.Context, user *User) error {
	key := NormalizeUsername(user.Username)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[key]; exists {
		return shared.ErrDuplicate
	}
	now := time.Now().UTC()
	user.ID = m.nextID
	user.Username = key
	user.CreatedAt = now
	user.UpdatedAt = now
	m.nextID++
	m.users[key] = *user
	return nil
}

// List returns all users ordered by id.
func (m *MemoryRepository) List(ctx context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ Repository = (*MemoryRepository)(nil)
