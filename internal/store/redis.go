package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockflow/market-sim/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// accounts. Writes go to the primary store and then refresh the cached
// record; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, username string) (*model.Account, error) {
	a, err := s.primary.CreateAccount(ctx, username)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) UpdateAccount(ctx context.Context, username string, patch model.AccountPatch) (*model.Account, error) {
	a, err := s.primary.UpdateAccount(ctx, username, patch)
	if err != nil {
		// A conflict means the cached copy may be stale; drop it.
		s.rdb.Del(ctx, accountKey(username))
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, username string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(username)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	} else if err != redis.Nil {
		slog.Warn("account cache read failed", "user", username, "err", err)
	}

	// Cache miss: read from primary.
	a, err := s.primary.GetAccount(ctx, username)
	if err != nil {
		return nil, err
	}

	s.cacheAccount(ctx, a)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertFeedback(ctx context.Context, fb *model.Feedback) error {
	return s.primary.InsertFeedback(ctx, fb)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.User.Name), data, s.ttl)
	}
}

func accountKey(username string) string {
	return fmt.Sprintf("account:%s", model.UsernameKey(username))
}
