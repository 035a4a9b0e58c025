// Package store defines the persistence interface for user accounts.
// Implementations include PostgreSQL, MongoDB, Redis (read-through cache in
// front of either), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/stockflow/market-sim/internal/model"
)

var (
	// ErrNotFound is returned when no account matches the username.
	ErrNotFound = errors.New("store: account not found")

	// ErrAlreadyExists is returned when creating a username that is taken.
	ErrAlreadyExists = errors.New("store: account already exists")

	// ErrVersionConflict is returned when a conditional update finds the
	// stored version moved on. Nothing is written.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Store is the persistence interface. Usernames match case-insensitively
// everywhere.
type Store interface {
	// GetAccount retrieves the full account record.
	GetAccount(ctx context.Context, username string) (*model.Account, error)

	// CreateAccount persists a freshly seeded account for username.
	CreateAccount(ctx context.Context, username string) (*model.Account, error)

	// UpdateAccount shallow-merges the patch into the stored record, bumps
	// the version, and returns the merged record.
	UpdateAccount(ctx context.Context, username string, patch model.AccountPatch) (*model.Account, error)

	// InsertFeedback appends a feedback message.
	InsertFeedback(ctx context.Context, fb *model.Feedback) error
}
