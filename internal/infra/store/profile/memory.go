package profilestore

import (
	"context"
	"sync"
	"time"

	"github.com/you-humble/loggenie/internal/domain"
)

type memoryProfileStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

func NewMemoryProfileStore() *memoryProfileStore {
	return &memoryProfileStore{users: make(map[string]domain.User)}
}

func (s *memoryProfileStore) User(_ context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *memoryProfileStore) Create(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.Username]; ok {
		return domain.ErrUserExists
	}
	s.users[u.Username] = u
	return nil
}

// Update applies fn to the stored user and saves it unless fn fails.
func (s *memoryProfileStore) Update(
	_ context.Context,
	username string,
	fn func(*domain.User) error,
) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err := fn(&u); err != nil {
		return domain.User{}, err
	}
	u.UpdatedAt = time.Now()
	s.users[username] = u

	return u, nil
}
