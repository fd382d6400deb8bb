// Package userapi serves user records over HTTP with a cache-aside layer in
// front of the backing store.
package userapi

import (
	"context"
	"errors"
)

// User is the record returned by the service.
type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int    `json:"age"`
}

// ErrUserNotFound is the domain-level absence of a record. It passes through
// the cache layer untouched and is never cached.
var ErrUserNotFound = errors.New("user not found")

// Store looks up user records. Implementations must be idempotent and
// side-effect-free with respect to caching; the cache layer owns all caching
// decisions.
type Store interface {
	User(ctx context.Context, id int) (User, error)
}

// MemStore is an in-memory Store.
type MemStore struct {
	users map[int]User
}

var _ Store = (*MemStore)(nil)

func NewMemStore(users map[int]User) *MemStore {
	m := make(map[int]User, len(users))
	for id, u := range users {
		m[id] = u
	}
	return &MemStore{users: m}
}

// NewSeededStore returns a MemStore with the reference dataset.
func NewSeededStore() *MemStore {
	return NewMemStore(map[int]User{
		1: {ID: 1, Name: "Manas", Email: "manas@example.com", Age: 25},
		2: {ID: 2, Name: "omkar", Email: "omkar@example.com", Age: 29},
		3: {ID: 3, Name: "anand", Email: "anand@example.com", Age: 27},
	})
}

func (s *MemStore) User(_ context.Context, id int) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}
