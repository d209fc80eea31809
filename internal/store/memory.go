package store

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/ayush/finalapi/internal/auth"
	"github.com/ayush/finalapi/internal/models"
)

// MemoryStore keeps users in process memory. Uniqueness checks and inserts
// happen under one lock.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*models.User
	byEmail    map[string]string
	byUsername map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*models.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, u *models.User) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_CREATE_FAILED").Wrap(err)
	}

	email := auth.NormalizeEmail(u.Email)
	username := auth.NormalizeUsername(u.Username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return oops.Code("USER_DUPLICATE_EMAIL").With("user_id", u.ID).Wrap(auth.ErrDuplicateEmail)
	}
	if _, ok := s.byUsername[username]; ok {
		return oops.Code("USER_DUPLICATE_USERNAME").With("user_id", u.ID).Wrap(auth.ErrDuplicateUsername)
	}

	stored := cloneUser(u)
	s.byID[u.ID] = stored
	s.byEmail[email] = u.ID
	s.byUsername[username] = u.ID
	return nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.lookup(ctx, s.byEmail, auth.NormalizeEmail(email), "email")
}

func (s *MemoryStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.lookup(ctx, s.byUsername, auth.NormalizeUsername(username), "username")
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_UPDATE_FAILED").Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	u.PasswordHash = hash
	return nil
}

func (s *MemoryStore) lookup(ctx context.Context, index map[string]string, key, by string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("by", by).Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := index[key]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("by", by).Wrap(auth.ErrNotFound)
	}
	return cloneUser(s.byID[id]), nil
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Roles = append([]string{}, u.Roles...)
	return &c
}

var _ auth.UserRepository = (*MemoryStore)(nil)
