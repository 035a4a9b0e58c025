package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stockflow/market-sim/internal/ledger"
	"github.com/stockflow/market-sim/internal/model"
	"github.com/stockflow/market-sim/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// mockStore is a testify mock of store.Store.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetAccount(ctx context.Context, username string) (*model.Account, error) {
	args := m.Called(ctx, username)
	a, _ := args.Get(0).(*model.Account)
	return a, args.Error(1)
}

func (m *mockStore) CreateAccount(ctx context.Context, username string) (*model.Account, error) {
	args := m.Called(ctx, username)
	a, _ := args.Get(0).(*model.Account)
	return a, args.Error(1)
}

func (m *mockStore) UpdateAccount(ctx context.Context, username string, patch model.AccountPatch) (*model.Account, error) {
	args := m.Called(ctx, username, patch)
	a, _ := args.Get(0).(*model.Account)
	return a, args.Error(1)
}

func (m *mockStore) InsertFeedback(ctx context.Context, fb *model.Feedback) error {
	return m.Called(ctx, fb).Error(0)
}

var errNetwork = errors.New("network unreachable")

func epochish() time.Time {
	return time.Date(2025, 1, 2, 9, 15, 0, 0, time.UTC)
}

func signedIn(t *testing.T) (*Session, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	s := New(ms, ledger.NewEngine(), nil)
	_, err := s.SignUp(context.Background(), "alice")
	require.NoError(t, err)
	return s, ms
}

// --- Lifecycle ---

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	s := New(ms, nil, nil)

	_, ok := s.Account()
	assert.False(t, ok)

	a, err := s.SignUp(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, a.Wallet.Equal(d(5000)))

	_, err = s.SignUp(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	s.SignOut()
	_, ok = s.Account()
	assert.False(t, ok)

	a, err = s.SignIn(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "Alice", a.User.Name)
}

func TestRestore_FailureLeavesSignedOut(t *testing.T) {
	ctx := context.Background()
	ms := new(mockStore)
	ms.On("GetAccount", mock.Anything, "alice").Return(nil, errNetwork)

	s := New(ms, nil, nil)
	err := s.Restore(ctx, "alice")
	assert.ErrorIs(t, err, errNetwork)

	_, ok := s.Account()
	assert.False(t, ok)
	ms.AssertExpectations(t)
}

func TestRestore_UnknownUser(t *testing.T) {
	s := New(store.NewMemoryStore(), nil, nil)
	err := s.Restore(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSignedOutOperations(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemoryStore(), nil, nil)

	_, err := s.Deposit(ctx, d(100))
	assert.ErrorIs(t, err, ErrSignedOut)
	_, err = s.Buy(ctx, "TCS", 1, d(10))
	assert.ErrorIs(t, err, ErrSignedOut)
	_, _, err = s.AddToWatchlist(ctx, "TCS")
	assert.ErrorIs(t, err, ErrSignedOut)
	_, err = s.Reload(ctx)
	assert.ErrorIs(t, err, ErrSignedOut)
}

// --- Write-through ---

func TestBuy_PersistsAndReconciles(t *testing.T) {
	ctx := context.Background()
	s, ms := signedIn(t)

	ch, err := s.Buy(ctx, "TCS", 2, d(100))
	require.NoError(t, err)
	assert.Equal(t, int64(2), ch.Account.Version)

	local, _ := s.Account()
	assert.True(t, local.Wallet.Equal(d(4800)))
	assert.Equal(t, int64(2), local.Version)

	stored, err := ms.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, stored.Wallet.Equal(d(4800)))
	require.Len(t, stored.Holdings, 1)
	assert.Len(t, stored.Transactions, 2)
}

func TestScenario_ThroughSession(t *testing.T) {
	ctx := context.Background()
	s, ms := signedIn(t)

	_, err := s.Buy(ctx, "AAPL", 2, d(100))
	require.NoError(t, err)
	_, err = s.Buy(ctx, "AAPL", 3, d(150))
	require.NoError(t, err)
	_, err = s.Sell(ctx, "AAPL", 5, d(140))
	require.NoError(t, err)

	stored, err := ms.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, stored.Wallet.Equal(d(5050)))
	assert.Empty(t, stored.Holdings)
	assert.Len(t, stored.Transactions, 4)
	assert.Equal(t, int64(4), stored.Version)
}

func TestLedgerRejection_NoWrite(t *testing.T) {
	ctx := context.Background()
	s, ms := signedIn(t)

	_, err := s.Buy(ctx, "TCS", 10, d(1000))
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	stored, _ := ms.GetAccount(ctx, "alice")
	assert.Equal(t, int64(1), stored.Version)
	local, _ := s.Account()
	assert.True(t, local.Wallet.Equal(d(5000)))
}

func TestWatchlistNoop_NoWrite(t *testing.T) {
	ctx := context.Background()
	ms := new(mockStore)
	acct := model.NewAccount("alice", epochish())
	acct.Watchlist = []string{"TCS"}
	ms.On("GetAccount", mock.Anything, "alice").Return(acct, nil)

	s := New(ms, nil, nil)
	require.NoError(t, s.Restore(ctx, "alice"))

	_, changed, err := s.AddToWatchlist(ctx, "TCS")
	require.NoError(t, err)
	assert.False(t, changed)
	_, changed, err = s.RemoveFromWatchlist(ctx, "INFY")
	require.NoError(t, err)
	assert.False(t, changed)

	ms.AssertNotCalled(t, "UpdateAccount", mock.Anything, mock.Anything, mock.Anything)
}

// --- Rollback ---

func TestPersistenceFailure_RollsBack(t *testing.T) {
	ctx := context.Background()
	ms := new(mockStore)
	acct := model.NewAccount("alice", epochish())
	ms.On("GetAccount", mock.Anything, "alice").Return(acct, nil)
	ms.On("UpdateAccount", mock.Anything, "alice", mock.MatchedBy(func(p model.AccountPatch) bool {
		return p.IfVersion == 1 && p.Wallet != nil && p.Holdings != nil && p.Transactions != nil
	})).Return(nil, errNetwork)

	s := New(ms, nil, nil)
	require.NoError(t, s.Restore(ctx, "alice"))

	_, err := s.Buy(ctx, "TCS", 2, d(100))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errNetwork)

	local, ok := s.Account()
	require.True(t, ok)
	assert.True(t, local.Wallet.Equal(d(5000)), "wallet = %s", local.Wallet)
	assert.Empty(t, local.Holdings)
	assert.Len(t, local.Transactions, 1)
	ms.AssertExpectations(t)
}

func TestVersionConflict_ReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	first := New(ms, nil, nil)
	_, err := first.SignUp(ctx, "alice")
	require.NoError(t, err)

	second := New(ms, nil, nil)
	_, err = second.SignIn(ctx, "alice")
	require.NoError(t, err)

	// The first session moves the stored version on.
	_, err = first.Deposit(ctx, d(1000))
	require.NoError(t, err)

	// The second session's write was computed from version 1.
	_, err = second.Buy(ctx, "TCS", 1, d(100))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	local, _ := second.Account()
	assert.True(t, local.Wallet.Equal(d(6000)), "reloaded wallet = %s", local.Wallet)
	assert.Equal(t, int64(2), local.Version)
	assert.Empty(t, local.Holdings)

	// Retrying against the fresh copy succeeds.
	_, err = second.Buy(ctx, "TCS", 1, d(100))
	require.NoError(t, err)
	stored, _ := ms.GetAccount(ctx, "alice")
	assert.True(t, stored.Wallet.Equal(d(5900)))
}

func TestSetAvatar(t *testing.T) {
	ctx := context.Background()
	s, ms := signedIn(t)

	_, err := s.SetAvatar(ctx, "data:image/png;base64,QUJD")
	require.NoError(t, err)

	stored, _ := ms.GetAccount(ctx, "alice")
	assert.Equal(t, "data:image/png;base64,QUJD", stored.User.Avatar)
}
