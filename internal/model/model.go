// Package model defines the core domain types shared across the simulator.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Money travels as JSON numbers on the wire, matching the persisted record layout.
	decimal.MarshalJSONWithoutQuotes = true
}

// StartingBalance is the cash every new account is seeded with.
var StartingBalance = decimal.NewFromInt(5000)

// ErrInvalidPatch is returned by AccountPatch.Validate.
var ErrInvalidPatch = errors.New("model: invalid account patch")

// TransactionType is the kind of cash movement recorded in the history.
type TransactionType string

const (
	TransactionDeposit TransactionType = "deposit"
	TransactionBuy     TransactionType = "buy"
	TransactionSell    TransactionType = "sell"
)

// User is the profile part of an account.
type User struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"` // data URI for generated avatars
}

// Position is an account's ownership of one instrument at a weighted-average cost.
// Quantity is always positive; empty positions are removed, never stored.
type Position struct {
	Ticker      string          `json:"ticker"`
	Quantity    int64           `json:"quantity"`
	AvgBuyPrice decimal.Decimal `json:"avgBuyPrice"`
}

// Transaction is an immutable record of a cash movement.
// Ticker, Quantity and Price are only set for buys and sells.
type Transaction struct {
	ID       string           `json:"id"`
	Type     TransactionType  `json:"type"`
	Ticker   string           `json:"ticker,omitempty"`
	Quantity int64            `json:"quantity,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Amount   decimal.Decimal  `json:"amount"` // always positive, direction implied by Type
	Date     time.Time        `json:"date"`
}

// Account is a user's wallet, holdings, transaction history and watchlist.
// Transactions are ordered newest first.
type Account struct {
	User         User            `json:"user"`
	Wallet       decimal.Decimal `json:"wallet"`
	Holdings     []Position      `json:"holdings"`
	Transactions []Transaction   `json:"transactions"`
	Watchlist    []string        `json:"watchlist"`
	Version      int64           `json:"version"`
}

// NewTransactionID returns a time-ordered (UUIDv7) identifier.
func NewTransactionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// NewAccount builds the seeded record for a fresh sign-up: the starting
// balance and a single deposit transaction recording it.
func NewAccount(name string, at time.Time) *Account {
	return &Account{
		User:     User{Name: name},
		Wallet:   StartingBalance,
		Holdings: []Position{},
		Transactions: []Transaction{{
			ID:     NewTransactionID(),
			Type:   TransactionDeposit,
			Amount: StartingBalance,
			Date:   at,
		}},
		Watchlist: []string{},
		Version:   1,
	}
}

// UsernameKey is the case-insensitive lookup key for a username.
func UsernameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Clone returns a deep copy so callers can mutate it freely.
func (a Account) Clone() Account {
	c := a
	c.Holdings = append([]Position{}, a.Holdings...)
	c.Transactions = append([]Transaction{}, a.Transactions...)
	c.Watchlist = append([]string{}, a.Watchlist...)
	return c
}

// Position returns the holding for ticker, if any.
func (a Account) Position(ticker string) (Position, bool) {
	for _, p := range a.Holdings {
		if p.Ticker == ticker {
			return p, true
		}
	}
	return Position{}, false
}

// Watching reports whether ticker is on the watchlist.
func (a Account) Watching(ticker string) bool {
	for _, t := range a.Watchlist {
		if t == ticker {
			return true
		}
	}
	return false
}

// AccountPatch is a shallow update: every non-nil field replaces the stored
// top-level field wholesale (the holdings array is replaced, not merged).
type AccountPatch struct {
	User         *User            `json:"user,omitempty"`
	Wallet       *decimal.Decimal `json:"wallet,omitempty"`
	Holdings     *[]Position      `json:"holdings,omitempty"`
	Transactions *[]Transaction   `json:"transactions,omitempty"`
	Watchlist    *[]string        `json:"watchlist,omitempty"`

	// IfVersion, when non-zero, makes the update conditional on the stored
	// version. Zero means last write wins.
	IfVersion int64 `json:"-"`
}

// Empty reports whether the patch carries no field.
func (p AccountPatch) Empty() bool {
	return p.User == nil && p.Wallet == nil && p.Holdings == nil &&
		p.Transactions == nil && p.Watchlist == nil
}

// Validate rejects patches that would break the account invariants.
func (p AccountPatch) Validate() error {
	if p.Wallet != nil && p.Wallet.IsNegative() {
		return fmt.Errorf("%w: wallet must not be negative", ErrInvalidPatch)
	}
	if p.Holdings != nil {
		seen := make(map[string]bool, len(*p.Holdings))
		for _, h := range *p.Holdings {
			if h.Ticker == "" {
				return fmt.Errorf("%w: holding without ticker", ErrInvalidPatch)
			}
			if h.Quantity <= 0 {
				return fmt.Errorf("%w: holding %s has non-positive quantity", ErrInvalidPatch, h.Ticker)
			}
			if h.AvgBuyPrice.IsNegative() {
				return fmt.Errorf("%w: holding %s has negative average price", ErrInvalidPatch, h.Ticker)
			}
			if seen[h.Ticker] {
				return fmt.Errorf("%w: duplicate holding %s", ErrInvalidPatch, h.Ticker)
			}
			seen[h.Ticker] = true
		}
	}
	if p.Transactions != nil {
		for _, t := range *p.Transactions {
			if !t.Amount.IsPositive() {
				return fmt.Errorf("%w: transaction %s has non-positive amount", ErrInvalidPatch, t.ID)
			}
		}
	}
	return nil
}

// Apply merges the patch into a copy of the account. The version is not touched.
func (p AccountPatch) Apply(a Account) Account {
	out := a.Clone()
	if p.User != nil {
		// The name is immutable; only the avatar follows the patch.
		out.User.Avatar = p.User.Avatar
	}
	if p.Wallet != nil {
		out.Wallet = *p.Wallet
	}
	if p.Holdings != nil {
		out.Holdings = append([]Position{}, (*p.Holdings)...)
	}
	if p.Transactions != nil {
		out.Transactions = append([]Transaction{}, (*p.Transactions)...)
	}
	if p.Watchlist != nil {
		out.Watchlist = append([]string{}, (*p.Watchlist)...)
	}
	return out
}

// Feedback is a message submitted from the feedback form.
type Feedback struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Subject  string    `json:"subject"`
	Message  string    `json:"message"`
	Date     time.Time `json:"date"`
}

// PositionValue is one holding marked to the current market price.
type PositionValue struct {
	Ticker            string          `json:"ticker"`
	Quantity          int64           `json:"quantity"`
	AvgBuyPrice       decimal.Decimal `json:"avgBuyPrice"`
	Price             decimal.Decimal `json:"price"`
	Invested          decimal.Decimal `json:"invested"`
	MarketValue       decimal.Decimal `json:"marketValue"`
	ProfitLoss        decimal.Decimal `json:"profitLoss"`
	ProfitLossPercent decimal.Decimal `json:"profitLossPercent"`
}

// Portfolio aggregates all positions of an account with P&L.
type Portfolio struct {
	Username          string          `json:"username"`
	Cash              decimal.Decimal `json:"cash"`
	Positions         []PositionValue `json:"positions"`
	Invested          decimal.Decimal `json:"invested"`
	MarketValue       decimal.Decimal `json:"marketValue"`
	ProfitLoss        decimal.Decimal `json:"profitLoss"`
	ProfitLossPercent decimal.Decimal `json:"profitLossPercent"`
	NetWorth          decimal.Decimal `json:"netWorth"` // cash + market value
}
