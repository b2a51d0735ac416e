package storage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/eduguest/guestidp/pkg/model"
)

// MemoryAuthnRequestStore is an in-memory AuthnRequestStore for tests and
// single-node development setups.
type MemoryAuthnRequestStore struct {
	mu       sync.RWMutex
	requests map[string]model.PendingRequest
	byHash   map[string]string
	now      func() time.Time
}

// NewMemoryAuthnRequestStore creates an empty in-memory store.
func NewMemoryAuthnRequestStore() *MemoryAuthnRequestStore {
	return &MemoryAuthnRequestStore{
		requests: make(map[string]model.PendingRequest),
		byHash:   make(map[string]string),
		now:      time.Now,
	}
}

// Create stores a fresh exchange.
func (s *MemoryAuthnRequestStore) Create(_ context.Context, pending model.PendingRequest) (model.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[pending.ID] = pending
	if pending.Hash != "" {
		s.byHash[pending.Hash] = pending.ID
	}
	return pending, nil
}

// FindByID loads an exchange by id.
func (s *MemoryAuthnRequestStore) FindByID(_ context.Context, id string) (model.PendingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending, ok := s.requests[id]
	if !ok {
		return model.PendingRequest{}, ErrNotFound
	}
	return pending, nil
}

// ConsumeByHash resolves and invalidates a completion key under the lock,
// so two concurrent completions of the same magic link cannot both succeed.
func (s *MemoryAuthnRequestStore) ConsumeByHash(_ context.Context, hash string) (model.PendingRequest, error) {
	if hash == "" {
		return model.PendingRequest{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[hash]
	if !ok {
		return model.PendingRequest{}, ErrNotFound
	}
	delete(s.byHash, hash)
	pending, ok := s.requests[id]
	if !ok || pending.Expired(s.now()) {
		return model.PendingRequest{}, ErrNotFound
	}
	pending = pending.Consumed()
	s.requests[id] = pending
	return pending, nil
}

// Update replaces a stored exchange and re-indexes its completion key.
func (s *MemoryAuthnRequestStore) Update(_ context.Context, pending model.PendingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, ok := s.requests[pending.ID]
	if !ok {
		return ErrNotFound
	}
	if previous.Hash != "" && previous.Hash != pending.Hash {
		delete(s.byHash, previous.Hash)
	}
	if pending.Hash != "" {
		s.byHash[pending.Hash] = pending.ID
	}
	s.requests[pending.ID] = pending
	return nil
}

// DeleteExpired drops exchanges past their expiry timestamp.
func (s *MemoryAuthnRequestStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, pending := range s.requests {
		if pending.Expired(now) {
			if pending.Hash != "" {
				delete(s.byHash, pending.Hash)
			}
			delete(s.requests, id)
			deleted++
		}
	}
	return deleted, nil
}

// MemoryUserStore is an in-memory UserStore for tests and development.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*model.User
	seq   int
}

// NewMemoryUserStore creates an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*model.User)}
}

// Save inserts or replaces a user, assigning an id on first save.
func (s *MemoryUserStore) Save(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		s.seq++
		user.ID = "user-" + strconv.Itoa(s.seq)
	}
	clone := *user
	s.users[user.ID] = &clone
	return nil
}

// FindByID loads a user by internal id.
func (s *MemoryUserStore) FindByID(_ context.Context, id string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.ID == id })
}

// FindByEmail loads a user by email.
func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.Email == email })
}

// FindByUID loads a user by uid.
func (s *MemoryUserStore) FindByUID(_ context.Context, uid string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.UID == uid })
}

// FindByEduID loads a user owning the given pseudonymous identifier.
func (s *MemoryUserStore) FindByEduID(_ context.Context, eduID string) (*model.User, error) {
	return s.find(func(u *model.User) bool {
		for _, e := range u.EduIDPerServiceProvider {
			if e.Value == eduID {
				return true
			}
		}
		return false
	})
}

// FindByEnrollmentVerificationKey loads a user by enrollment key.
func (s *MemoryUserStore) FindByEnrollmentVerificationKey(_ context.Context, key string) (*model.User, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.find(func(u *model.User) bool { return u.EnrollmentVerificationKey == key })
}

func (s *MemoryUserStore) find(match func(*model.User) bool) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}
