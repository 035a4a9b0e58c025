package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/stockflow/market-sim/internal/model"
)

// setupRedis starts a Redis container and returns a client. Skipped with
// -short.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}
	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := redisContainer.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	url, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("failed to parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newCachedStore(t *testing.T, rdb *redis.Client) (*CachedStore, *MemoryStore) {
	t.Helper()
	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	primary := NewMemoryStore()
	return NewCachedStore(primary, rdb, time.Minute), primary
}

func TestCachedStore(t *testing.T) {
	rdb := setupRedis(t)
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := newCachedStore(t, rdb)
		return s
	})

	ctx := context.Background()

	t.Run("read fills cache", func(t *testing.T) {
		s, primary := newCachedStore(t, rdb)
		_, err := primary.CreateAccount(ctx, "Kim")
		require.NoError(t, err)

		n, err := rdb.Exists(ctx, accountKey("kim")).Result()
		require.NoError(t, err)
		assert.Zero(t, n)

		a, err := s.GetAccount(ctx, "KIM")
		require.NoError(t, err)
		assert.Equal(t, "Kim", a.User.Name)

		n, err = rdb.Exists(ctx, accountKey("kim")).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("update refreshes cache", func(t *testing.T) {
		s, primary := newCachedStore(t, rdb)
		_, err := s.CreateAccount(ctx, "lee")
		require.NoError(t, err)

		wallet := decimal.RequireFromString("1234.56")
		_, err = s.UpdateAccount(ctx, "lee", model.AccountPatch{Wallet: &wallet})
		require.NoError(t, err)

		// Served from Redis even if the primary is written behind its back.
		other := decimal.NewFromInt(1)
		_, err = primary.UpdateAccount(ctx, "lee", model.AccountPatch{Wallet: &other})
		require.NoError(t, err)

		got, err := s.GetAccount(ctx, "lee")
		require.NoError(t, err)
		assert.True(t, got.Wallet.Equal(wallet), "wallet = %s", got.Wallet)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("failed update drops stale entry", func(t *testing.T) {
		s, primary := newCachedStore(t, rdb)
		_, err := s.CreateAccount(ctx, "max")
		require.NoError(t, err)

		list := []string{"TCS"}
		_, err = primary.UpdateAccount(ctx, "max", model.AccountPatch{Watchlist: &list})
		require.NoError(t, err)

		stale := []string{"INFY"}
		_, err = s.UpdateAccount(ctx, "max", model.AccountPatch{Watchlist: &stale, IfVersion: 1})
		assert.ErrorIs(t, err, ErrVersionConflict)

		n, err := rdb.Exists(ctx, accountKey("max")).Result()
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := s.GetAccount(ctx, "max")
		require.NoError(t, err)
		assert.Equal(t, []string{"TCS"}, got.Watchlist)
		assert.Equal(t, int64(2), got.Version)
	})
}
