package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stockflow/market-sim/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account // keyed by model.UsernameKey
	feedback []model.Feedback
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) GetAccount(_ context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[model.UsernameKey(username)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	c := a.Clone()
	return &c, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, username string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.UsernameKey(username)
	if _, exists := s.accounts[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, username)
	}

	a := model.NewAccount(username, s.now())
	// Store a copy to avoid external mutation.
	stored := a.Clone()
	s.accounts[key] = &stored
	return a, nil
}

func (s *MemoryStore) UpdateAccount(_ context.Context, username string, patch model.AccountPatch) (*model.Account, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[model.UsernameKey(username)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if patch.IfVersion != 0 && patch.IfVersion != a.Version {
		return nil, fmt.Errorf("%w: have %d, stored %d", ErrVersionConflict, patch.IfVersion, a.Version)
	}

	merged := patch.Apply(*a)
	merged.Version = a.Version + 1
	*a = merged

	out := merged.Clone()
	return &out, nil
}

func (s *MemoryStore) InsertFeedback(_ context.Context, fb *model.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feedback = append(s.feedback, *fb)
	return nil
}

// Feedback returns a copy of every stored feedback message.
func (s *MemoryStore) Feedback() []model.Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Feedback(nil), s.feedback...)
}
