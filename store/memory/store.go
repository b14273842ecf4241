// Package memory provides an in-process CredentialStore. It backs tests and
// single-node development setups; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	auth "github.com/AHegab/Authorization-microservice"
)

type Store struct {
	mu      sync.RWMutex
	byID    map[string]*auth.User
	byEmail map[string]string
	now     func() time.Time
}

func New() *Store {
	return &Store{
		byID:    make(map[string]*auth.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

// WithClock overrides the timestamp source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(user), nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *Store) Create(ctx context.Context, user *auth.User) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[user.Email]; taken {
		return nil, auth.ErrDuplicateEmail
	}

	stored := cloneUser(user)
	stored.ID = uuid.NewString()
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.byID[stored.ID] = stored
	s.byEmail[stored.Email] = stored.ID

	return cloneUser(stored), nil
}

func (s *Store) Save(ctx context.Context, user *auth.User) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[user.ID]
	if !ok {
		return nil, auth.ErrNotFound
	}

	stored := cloneUser(user)
	stored.Email = existing.Email
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now()

	s.byID[stored.ID] = stored

	return cloneUser(stored), nil
}

func (s *Store) ListAll(ctx context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]auth.User, 0, len(s.byID))
	for _, user := range s.byID {
		users = append(users, *cloneUser(user))
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func cloneUser(u *auth.User) *auth.User {
	if u == nil {
		return nil
	}
	c := *u
	if u.BirthDay != nil {
		bd := *u.BirthDay
		c.BirthDay = &bd
	}
	if u.LastLogin != nil {
		ll := *u.LastLogin
		c.LastLogin = &ll
	}
	return &c
}
