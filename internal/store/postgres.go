package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockflow/market-sim/internal/model"
)

// PostgresStore implements Store using PostgreSQL. The wallet is stored as
// NUMERIC for exact decimal precision; holdings, transactions and watchlist
// are JSONB columns replaced wholesale on update.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

const selectAccount = `SELECT name, avatar, wallet::TEXT,
        holdings::TEXT, transactions::TEXT, watchlist::TEXT, version
 FROM accounts WHERE username_key = $1`

func (s *PostgresStore) GetAccount(ctx context.Context, username string) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, selectAccount, model.UsernameKey(username)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", username, err)
	}
	return a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, username string) (*model.Account, error) {
	a := model.NewAccount(username, s.now())
	cols, err := encodeCollections(a)
	if err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (username_key, name, avatar, wallet, holdings, transactions, watchlist, version)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::JSONB, $6::JSONB, $7::JSONB, $8)
		 ON CONFLICT (username_key) DO NOTHING`,
		model.UsernameKey(username), a.User.Name, a.User.Avatar, a.Wallet.String(),
		cols.holdings, cols.transactions, cols.watchlist, a.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, username)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, username string, patch model.AccountPatch) (*model.Account, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	key := model.UsernameKey(username)
	current, err := scanAccount(tx.QueryRow(ctx, selectAccount+" FOR UPDATE", key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", username, err)
	}
	if patch.IfVersion != 0 && patch.IfVersion != current.Version {
		return nil, fmt.Errorf("%w: have %d, stored %d", ErrVersionConflict, patch.IfVersion, current.Version)
	}

	merged := patch.Apply(*current)
	merged.Version = current.Version + 1
	cols, err := encodeCollections(&merged)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts
		 SET avatar = $2, wallet = $3::NUMERIC,
		     holdings = $4::JSONB, transactions = $5::JSONB, watchlist = $6::JSONB,
		     version = $7, updated_at = now()
		 WHERE username_key = $1`,
		key, merged.User.Avatar, merged.Wallet.String(),
		cols.holdings, cols.transactions, cols.watchlist, merged.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update account %s: %w", username, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &merged, nil
}

func (s *PostgresStore) InsertFeedback(ctx context.Context, fb *model.Feedback) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback (id, username, subject, message, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		fb.ID, fb.Username, fb.Subject, fb.Message, fb.Date,
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// --- Row encoding ---

type encodedCollections struct {
	holdings, transactions, watchlist string
}

func encodeCollections(a *model.Account) (encodedCollections, error) {
	var out encodedCollections
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&out.holdings, a.Holdings},
		{&out.transactions, a.Transactions},
		{&out.watchlist, a.Watchlist},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return out, fmt.Errorf("encode account: %w", err)
		}
		*f.dst = string(b)
	}
	return out, nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a                                      model.Account
		wallet, holdings, transactions, watchl string
	)
	if err := row.Scan(&a.User.Name, &a.User.Avatar, &wallet,
		&holdings, &transactions, &watchl, &a.Version); err != nil {
		return nil, err
	}

	var err error
	if a.Wallet, err = decimal.NewFromString(wallet); err != nil {
		return nil, fmt.Errorf("decode wallet: %w", err)
	}
	if err := json.Unmarshal([]byte(holdings), &a.Holdings); err != nil {
		return nil, fmt.Errorf("decode holdings: %w", err)
	}
	if err := json.Unmarshal([]byte(transactions), &a.Transactions); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	if err := json.Unmarshal([]byte(watchl), &a.Watchlist); err != nil {
		return nil, fmt.Errorf("decode watchlist: %w", err)
	}
	return &a, nil
}
