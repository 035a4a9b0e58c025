// Package session holds the single in-memory copy of a signed-in account and
// keeps it in step with the store: ledger changes are applied locally first,
// then the changed fields are written through. A failed write rolls the
// local copy back.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockflow/market-sim/internal/ledger"
	"github.com/stockflow/market-sim/internal/metrics"
	"github.com/stockflow/market-sim/internal/model"
	"github.com/stockflow/market-sim/internal/store"
)

var (
	// ErrSignedOut is returned by operations that need a signed-in account.
	ErrSignedOut = errors.New("session: not signed in")

	// ErrPersistence wraps store failures after a local change was made.
	// The local copy has been rolled back when it is returned.
	ErrPersistence = errors.New("session: persistence failed")
)

// Session is the client-side state of one signed-in user. All methods are
// safe for concurrent use; mutations are serialized.
type Session struct {
	store  store.Store
	engine *ledger.Engine
	logger *slog.Logger

	mu      sync.Mutex
	account *model.Account
}

// New creates a signed-out session.
func New(s store.Store, engine *ledger.Engine, logger *slog.Logger) *Session {
	if engine == nil {
		engine = ledger.NewEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{store: s, engine: engine, logger: logger}
}

// Restore re-establishes a remembered session. On any failure the session
// stays signed out and the error is returned so the caller can forget the
// remembered username.
func (s *Session) Restore(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.GetAccount(ctx, username)
	if err != nil {
		s.account = nil
		s.logger.Warn("session restore failed", "user", username, "err", err)
		return err
	}
	s.account = a
	return nil
}

// SignIn loads an existing account.
func (s *Session) SignIn(ctx context.Context, username string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.GetAccount(ctx, username)
	if err != nil {
		return model.Account{}, err
	}
	s.account = a
	return a.Clone(), nil
}

// SignUp creates a new account and signs it in.
func (s *Session) SignUp(ctx context.Context, username string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.CreateAccount(ctx, username)
	if err != nil {
		return model.Account{}, err
	}
	s.account = a
	return a.Clone(), nil
}

// SignOut drops the in-memory account.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = nil
}

// Account returns a copy of the signed-in account.
func (s *Session) Account() (model.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return model.Account{}, false
	}
	return s.account.Clone(), true
}

// Reload replaces the local copy with the stored record.
func (s *Session) Reload(ctx context.Context) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return model.Account{}, ErrSignedOut
	}
	a, err := s.store.GetAccount(ctx, s.account.User.Name)
	if err != nil {
		return model.Account{}, err
	}
	s.account = a
	return a.Clone(), nil
}

// Deposit credits the wallet.
func (s *Session) Deposit(ctx context.Context, amount decimal.Decimal) (ledger.Change, error) {
	return s.apply(ctx, "deposit", func(a model.Account) (ledger.Change, error) {
		return s.engine.Deposit(a, amount)
	})
}

// Buy fills an order at price.
func (s *Session) Buy(ctx context.Context, ticker string, quantity int64, price decimal.Decimal) (ledger.Change, error) {
	return s.apply(ctx, "buy", func(a model.Account) (ledger.Change, error) {
		return s.engine.Buy(a, ticker, quantity, price)
	})
}

// Sell liquidates shares at price.
func (s *Session) Sell(ctx context.Context, ticker string, quantity int64, price decimal.Decimal) (ledger.Change, error) {
	return s.apply(ctx, "sell", func(a model.Account) (ledger.Change, error) {
		return s.engine.Sell(a, ticker, quantity, price)
	})
}

// AddToWatchlist is a no-op, with no store write, when ticker is already watched.
func (s *Session) AddToWatchlist(ctx context.Context, ticker string) (ledger.Change, bool, error) {
	var changed bool
	ch, err := s.apply(ctx, "watch", func(a model.Account) (ledger.Change, error) {
		var c ledger.Change
		c, changed = ledger.AddToWatchlist(a, ticker)
		return c, nil
	})
	return ch, changed, err
}

// RemoveFromWatchlist is a no-op when ticker is not watched.
func (s *Session) RemoveFromWatchlist(ctx context.Context, ticker string) (ledger.Change, bool, error) {
	var changed bool
	ch, err := s.apply(ctx, "unwatch", func(a model.Account) (ledger.Change, error) {
		var c ledger.Change
		c, changed = ledger.RemoveFromWatchlist(a, ticker)
		return c, nil
	})
	return ch, changed, err
}

// SetAvatar replaces the avatar reference.
func (s *Session) SetAvatar(ctx context.Context, uri string) (ledger.Change, error) {
	return s.apply(ctx, "avatar", func(a model.Account) (ledger.Change, error) {
		return ledger.SetAvatar(a, uri), nil
	})
}

// apply computes a change against the local copy, installs it, and writes
// the patch through conditioned on the version it was computed from.
func (s *Session) apply(ctx context.Context, op string, compute func(model.Account) (ledger.Change, error)) (ledger.Change, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.account == nil {
		return ledger.Change{}, ErrSignedOut
	}

	before := *s.account
	ch, err := compute(before)
	if err != nil {
		metrics.ObserveLedger(op, "rejected", start)
		return ledger.Change{}, err
	}
	if ch.Patch.Empty() {
		metrics.ObserveLedger(op, "noop", start)
		return ch, nil
	}

	next := ch.Account
	s.account = &next

	patch := ch.Patch
	patch.IfVersion = before.Version
	stored, err := s.store.UpdateAccount(ctx, before.User.Name, patch)
	if err != nil {
		s.account = &before
		metrics.PersistenceFailures.Inc()
		metrics.ObserveLedger(op, "failed", start)
		s.logger.Error("account write failed, local change rolled back",
			"user", before.User.Name, "op", op, "err", err)

		if errors.Is(err, store.ErrVersionConflict) {
			if fresh, rerr := s.store.GetAccount(ctx, before.User.Name); rerr == nil {
				s.account = fresh
			}
		}
		return ledger.Change{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.account = stored
	ch.Account = stored.Clone()
	metrics.ObserveLedger(op, "ok", start)
	return ch, nil
}
