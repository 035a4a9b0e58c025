// Package ledger implements the account arithmetic of the simulator:
// deposits, buys and sells against a wallet, weighted-average cost basis,
// watchlist edits, and portfolio valuation.
//
// The engine is pure. Every operation takes an account value and returns a
// Change describing the new value; the input is never mutated and nothing
// is returned on error, so callers either apply the whole change or none of
// it. Persistence is the caller's business.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockflow/market-sim/internal/model"
)

var (
	// ErrValidation is the parent of every input validation failure.
	ErrValidation = errors.New("ledger: validation failed")

	ErrInvalidAmount   = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be a positive integer", ErrValidation)
	ErrInvalidPrice    = fmt.Errorf("%w: price must be positive", ErrValidation)
	ErrInvalidTicker   = fmt.Errorf("%w: ticker is required", ErrValidation)

	// ErrQuantityOverflow is returned when a buy would push a position past
	// the largest representable share count.
	ErrQuantityOverflow = fmt.Errorf("%w: position quantity overflows", ErrValidation)

	// ErrInsufficientFunds is returned when a buy costs more than the wallet holds.
	// There are no partial fills.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrNoSuchPosition is returned when selling an instrument the account does not hold.
	ErrNoSuchPosition = errors.New("ledger: no such position")

	// ErrInsufficientQuantity is returned when selling more shares than held.
	ErrInsufficientQuantity = errors.New("ledger: insufficient quantity")
)

// Change is the outcome of one ledger operation.
type Change struct {
	// Account is the full account after the operation.
	Account model.Account

	// Patch carries only the top-level fields the operation replaced.
	Patch model.AccountPatch

	// Transaction is the history entry recorded, nil for watchlist and
	// profile edits.
	Transaction *model.Transaction
}

// Engine applies ledger operations. It holds no account state; the clock and
// id generator are injectable so tests get stable transactions.
type Engine struct {
	now   func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the transaction timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the transaction id source.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine creates an engine stamping transactions with the wall clock (UTC)
// and UUIDv7 ids.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:   func() time.Time { return time.Now().UTC() },
		newID: model.NewTransactionID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Deposit credits the wallet. The engine only rejects non-positive amounts;
// minimum top-ups are a presentation rule.
func (e *Engine) Deposit(acct model.Account, amount decimal.Decimal) (Change, error) {
	if !amount.IsPositive() {
		return Change{}, ErrInvalidAmount
	}

	next := acct.Clone()
	tx := e.record(model.TransactionDeposit, amount, "", 0, nil)
	next.Wallet = next.Wallet.Add(amount)
	next.Transactions = prepend(next.Transactions, tx)

	return Change{
		Account:     next,
		Patch:       model.AccountPatch{Wallet: &next.Wallet, Transactions: &next.Transactions},
		Transaction: &tx,
	}, nil
}

// Buy fills quantity shares of ticker at price, debiting quantity*price.
// An existing position gets its cost basis re-averaged:
//
//	avg' = (avg*q + cost) / (q + quantity)
func (e *Engine) Buy(acct model.Account, ticker string, quantity int64, price decimal.Decimal) (Change, error) {
	if err := validateOrder(ticker, quantity, price); err != nil {
		return Change{}, err
	}

	cost := price.Mul(decimal.NewFromInt(quantity))
	if acct.Wallet.LessThan(cost) {
		return Change{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost, acct.Wallet)
	}

	next := acct.Clone()
	idx := indexOf(next.Holdings, ticker)
	if idx >= 0 {
		pos := next.Holdings[idx]
		if quantity > math.MaxInt64-pos.Quantity {
			return Change{}, fmt.Errorf("%w: holding %d %s", ErrQuantityOverflow, pos.Quantity, ticker)
		}
		held := decimal.NewFromInt(pos.Quantity)
		total := pos.Quantity + quantity
		pos.AvgBuyPrice = pos.AvgBuyPrice.Mul(held).Add(cost).Div(decimal.NewFromInt(total))
		pos.Quantity = total
		next.Holdings[idx] = pos
	} else {
		next.Holdings = append(next.Holdings, model.Position{
			Ticker:      ticker,
			Quantity:    quantity,
			AvgBuyPrice: price,
		})
	}

	tx := e.record(model.TransactionBuy, cost, ticker, quantity, &price)
	next.Wallet = next.Wallet.Sub(cost)
	next.Transactions = prepend(next.Transactions, tx)

	return Change{
		Account:     next,
		Patch:       tradePatch(&next),
		Transaction: &tx,
	}, nil
}

// Sell liquidates quantity shares of ticker at price, crediting quantity*price.
// Selling the whole position removes it; a partial sell leaves the cost basis
// unchanged.
func (e *Engine) Sell(acct model.Account, ticker string, quantity int64, price decimal.Decimal) (Change, error) {
	if err := validateOrder(ticker, quantity, price); err != nil {
		return Change{}, err
	}

	idx := indexOf(acct.Holdings, ticker)
	if idx < 0 {
		return Change{}, fmt.Errorf("%w: %s", ErrNoSuchPosition, ticker)
	}
	if held := acct.Holdings[idx].Quantity; held < quantity {
		return Change{}, fmt.Errorf("%w: hold %d %s, selling %d", ErrInsufficientQuantity, held, ticker, quantity)
	}

	next := acct.Clone()
	earning := price.Mul(decimal.NewFromInt(quantity))
	next.Holdings[idx].Quantity -= quantity
	if next.Holdings[idx].Quantity == 0 {
		next.Holdings = append(next.Holdings[:idx], next.Holdings[idx+1:]...)
	}

	tx := e.record(model.TransactionSell, earning, ticker, quantity, &price)
	next.Wallet = next.Wallet.Add(earning)
	next.Transactions = prepend(next.Transactions, tx)

	return Change{
		Account:     next,
		Patch:       tradePatch(&next),
		Transaction: &tx,
	}, nil
}

// AddToWatchlist appends ticker unless already present. The boolean reports
// whether the watchlist changed; a no-op is not an error.
func AddToWatchlist(acct model.Account, ticker string) (Change, bool) {
	if acct.Watching(ticker) || strings.TrimSpace(ticker) == "" {
		return Change{Account: acct.Clone()}, false
	}
	next := acct.Clone()
	next.Watchlist = append(next.Watchlist, ticker)
	return Change{Account: next, Patch: model.AccountPatch{Watchlist: &next.Watchlist}}, true
}

// RemoveFromWatchlist drops ticker if present. Removing an absent ticker is a no-op.
func RemoveFromWatchlist(acct model.Account, ticker string) (Change, bool) {
	if !acct.Watching(ticker) {
		return Change{Account: acct.Clone()}, false
	}
	next := acct.Clone()
	kept := next.Watchlist[:0]
	for _, t := range next.Watchlist {
		if t != ticker {
			kept = append(kept, t)
		}
	}
	next.Watchlist = kept
	return Change{Account: next, Patch: model.AccountPatch{Watchlist: &next.Watchlist}}, true
}

// SetAvatar replaces the avatar reference.
func SetAvatar(acct model.Account, uri string) Change {
	next := acct.Clone()
	next.User.Avatar = uri
	return Change{Account: next, Patch: model.AccountPatch{User: &next.User}}
}

func (e *Engine) record(kind model.TransactionType, amount decimal.Decimal, ticker string, quantity int64, price *decimal.Decimal) model.Transaction {
	tx := model.Transaction{
		ID:       e.newID(),
		Type:     kind,
		Ticker:   ticker,
		Quantity: quantity,
		Amount:   amount,
		Date:     e.now(),
	}
	if price != nil {
		p := *price
		tx.Price = &p
	}
	return tx
}

func validateOrder(ticker string, quantity int64, price decimal.Decimal) error {
	if strings.TrimSpace(ticker) == "" {
		return ErrInvalidTicker
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	return nil
}

func tradePatch(a *model.Account) model.AccountPatch {
	return model.AccountPatch{
		Wallet:       &a.Wallet,
		Holdings:     &a.Holdings,
		Transactions: &a.Transactions,
	}
}

func indexOf(holdings []model.Position, ticker string) int {
	for i, h := range holdings {
		if h.Ticker == ticker {
			return i
		}
	}
	return -1
}

func prepend(history []model.Transaction, tx model.Transaction) []model.Transaction {
	out := make([]model.Transaction, 0, len(history)+1)
	out = append(out, tx)
	return append(out, history...)
}
