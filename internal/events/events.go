// Package events publishes account activity for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stockflow/market-sim/internal/model"
)

// Type names an event.
type Type string

const (
	AccountCreated    Type = "account.created"
	LedgerDeposit     Type = "ledger.deposit"
	LedgerBuy         Type = "ledger.buy"
	LedgerSell        Type = "ledger.sell"
	WatchlistAdded    Type = "watchlist.added"
	WatchlistRemoved  Type = "watchlist.removed"
	AvatarUpdated     Type = "avatar.updated"
	FeedbackSubmitted Type = "feedback.submitted"
)

// Event is one account activity record. Key is the lower-cased username so
// all events of an account land on the same partition in order.
type Event struct {
	Type        Type               `json:"type"`
	Key         string             `json:"key"`
	Username    string             `json:"username"`
	Ticker      string             `json:"ticker,omitempty"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Version     int64              `json:"version,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// New builds an event for username stamped now.
func New(t Type, username string) Event {
	return Event{
		Type:      t,
		Key:       model.UsernameKey(username),
		Username:  username,
		Timestamp: time.Now().UTC(),
	}
}

// ForTransaction maps a ledger transaction type to its event type.
func ForTransaction(t model.TransactionType) Type {
	switch t {
	case model.TransactionBuy:
		return LedgerBuy
	case model.TransactionSell:
		return LedgerSell
	default:
		return LedgerDeposit
	}
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                            { return nil }
