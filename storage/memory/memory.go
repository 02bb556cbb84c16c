// Package memory provides an in-memory storage.Storage for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/jabberd-go/jabberd/storage"
)

// Store is an in-memory implementation of storage.Storage.
type Store struct {
	mu    sync.RWMutex
	users map[string]*storage.User
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{}
}

func (s *Store) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]*storage.User)
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) UserStore() storage.UserStore { return (*userStore)(s) }

type userStore Store

func (u *userStore) CreateUser(_ context.Context, user *storage.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.users == nil {
		u.users = make(map[string]*storage.User)
	}
	if _, ok := u.users[user.Username]; ok {
		return storage.ErrUserExists
	}
	cp := *user
	u.users[user.Username] = &cp
	return nil
}

func (u *userStore) GetUser(_ context.Context, username string) (*storage.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (u *userStore) UpdateUser(_ context.Context, user *storage.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[user.Username]; !ok {
		return storage.ErrNotFound
	}
	cp := *user
	u.users[user.Username] = &cp
	return nil
}

func (u *userStore) DeleteUser(_ context.Context, username string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[username]; !ok {
		return storage.ErrNotFound
	}
	delete(u.users, username)
	return nil
}

func (u *userStore) UserExists(_ context.Context, username string) (bool, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.users[username]
	return ok, nil
}

func (u *userStore) Authenticate(_ context.Context, username, password string) (bool, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[username]
	if !ok {
		return false, storage.ErrAuthFailed
	}
	if user.Password != password {
		return false, storage.ErrAuthFailed
	}
	return true, nil
}
