package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow/market-sim/internal/model"
)

// runStoreContract exercises the behaviour every Store backend must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create seeds account", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateAccount(ctx, "Alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", a.User.Name)
		assert.True(t, a.Wallet.Equal(model.StartingBalance))
		assert.Empty(t, a.Holdings)
		assert.Empty(t, a.Watchlist)
		require.Len(t, a.Transactions, 1)
		assert.Equal(t, model.TransactionDeposit, a.Transactions[0].Type)
		assert.Equal(t, int64(1), a.Version)
	})

	t.Run("create is case-insensitive unique", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateAccount(ctx, "alice")
		require.NoError(t, err)
		_, err = s.CreateAccount(ctx, "ALICE")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("get matches any case", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateAccount(ctx, "Bob")
		require.NoError(t, err)

		a, err := s.GetAccount(ctx, "bOB")
		require.NoError(t, err)
		assert.Equal(t, "Bob", a.User.Name)
		assert.True(t, a.Wallet.Equal(decimal.NewFromInt(5000)))
		require.Len(t, a.Transactions, 1)
	})

	t.Run("get unknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetAccount(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update merges shallowly and bumps version", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateAccount(ctx, "carol")
		require.NoError(t, err)

		wallet := decimal.RequireFromString("4350.25")
		holdings := []model.Position{{Ticker: "TCS", Quantity: 3, AvgBuyPrice: decimal.RequireFromString("1450.0833333333333333")}}
		updated, err := s.UpdateAccount(ctx, "CAROL", model.AccountPatch{Wallet: &wallet, Holdings: &holdings})
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		assert.True(t, updated.Wallet.Equal(wallet))
		require.Len(t, updated.Holdings, 1)
		assert.True(t, updated.Holdings[0].AvgBuyPrice.Equal(holdings[0].AvgBuyPrice))
		// Untouched fields survive.
		assert.Len(t, updated.Transactions, len(created.Transactions))

		got, err := s.GetAccount(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.True(t, got.Wallet.Equal(wallet))
		assert.Equal(t, "TCS", got.Holdings[0].Ticker)

		// Replacing holdings with an empty slice clears them.
		empty := []model.Position{}
		updated, err = s.UpdateAccount(ctx, "carol", model.AccountPatch{Holdings: &empty})
		require.NoError(t, err)
		assert.Empty(t, updated.Holdings)
		assert.Equal(t, int64(3), updated.Version)
	})

	t.Run("update keeps name, changes avatar", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateAccount(ctx, "dave")
		require.NoError(t, err)

		a, err := s.UpdateAccount(ctx, "dave", model.AccountPatch{User: &model.User{Name: "eve", Avatar: "data:image/png;base64,AA=="}})
		require.NoError(t, err)
		assert.Equal(t, "dave", a.User.Name)
		assert.Equal(t, "data:image/png;base64,AA==", a.User.Avatar)
	})

	t.Run("update transactions round trip", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateAccount(ctx, "frank")
		require.NoError(t, err)

		price := decimal.NewFromInt(100)
		txs := append([]model.Transaction{{
			ID:       "tx-buy",
			Type:     model.TransactionBuy,
			Ticker:   "INFY",
			Quantity: 2,
			Price:    &price,
			Amount:   decimal.NewFromInt(200),
			Date:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		}}, created.Transactions...)
		_, err = s.UpdateAccount(ctx, "frank", model.AccountPatch{Transactions: &txs})
		require.NoError(t, err)

		got, err := s.GetAccount(ctx, "frank")
		require.NoError(t, err)
		require.Len(t, got.Transactions, 2)
		first := got.Transactions[0]
		assert.Equal(t, "tx-buy", first.ID)
		assert.Equal(t, model.TransactionBuy, first.Type)
		assert.Equal(t, int64(2), first.Quantity)
		require.NotNil(t, first.Price)
		assert.True(t, first.Price.Equal(price))
		assert.True(t, first.Date.Equal(txs[0].Date))
		assert.Nil(t, got.Transactions[1].Price)
	})

	t.Run("update unknown", func(t *testing.T) {
		s := newStore(t)
		w := decimal.NewFromInt(1)
		_, err := s.UpdateAccount(ctx, "ghost", model.AccountPatch{Wallet: &w})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update rejects invalid patch", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateAccount(ctx, "henry")
		require.NoError(t, err)

		w := decimal.NewFromInt(-1)
		_, err = s.UpdateAccount(ctx, "henry", model.AccountPatch{Wallet: &w})
		assert.ErrorIs(t, err, model.ErrInvalidPatch)

		got, err := s.GetAccount(ctx, "henry")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateAccount(ctx, "ivy")
		require.NoError(t, err)

		list := []string{"TCS"}
		_, err = s.UpdateAccount(ctx, "ivy", model.AccountPatch{Watchlist: &list, IfVersion: 1})
		require.NoError(t, err)

		stale := []string{"INFY"}
		_, err = s.UpdateAccount(ctx, "ivy", model.AccountPatch{Watchlist: &stale, IfVersion: 1})
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := s.GetAccount(ctx, "ivy")
		require.NoError(t, err)
		assert.Equal(t, []string{"TCS"}, got.Watchlist)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("feedback", func(t *testing.T) {
		s := newStore(t)
		err := s.InsertFeedback(ctx, &model.Feedback{
			ID:       "fb-1",
			Username: "alice",
			Subject:  "Charts",
			Message:  "Love the charts",
			Date:     time.Now().UTC(),
		})
		assert.NoError(t, err)
	})
}
