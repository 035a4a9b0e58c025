package main

import (
	"bytes"
	"context"
	"flag"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow/market-sim/internal/feed"
	"github.com/stockflow/market-sim/internal/model"
	"github.com/stockflow/market-sim/internal/store"
	"github.com/stockflow/market-sim/internal/trade"
)

type cli struct {
	t       *testing.T
	store   *store.MemoryStore
	session string
	out     *bytes.Buffer
	errOut  *bytes.Buffer
}

// newCLI points the commands at a real API over a memory store and a
// session file in a temp dir.
func newCLI(t *testing.T) *cli {
	t.Helper()
	catalog, err := feed.NewCatalog([]model.Instrument{
		{ID: "1", Ticker: "ACME", Name: "Acme", Category: "Industrials", Kind: model.KindStock, Price: decimal.NewFromInt(100)},
		{ID: "2", Ticker: "IDXF", Name: "Index", Category: "Index", Kind: model.KindETF, Price: decimal.NewFromInt(50)},
	})
	require.NoError(t, err)

	ms := store.NewMemoryStore()
	r := chi.NewRouter()
	r.Route("/api", trade.NewService(ms, catalog).Mount)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c := &cli{
		t:       t,
		store:   ms,
		session: filepath.Join(t.TempDir(), "stockflow", "session"),
		out:     &bytes.Buffer{},
		errOut:  &bytes.Buffer{},
	}

	prevURL, prevFile, prevOut, prevErr := *serverURL, *sessionFile, stdout, stderr
	*serverURL, *sessionFile, stdout, stderr = srv.URL, c.session, c.out, c.errOut
	t.Cleanup(func() {
		*serverURL, *sessionFile, stdout, stderr = prevURL, prevFile, prevOut, prevErr
	})
	return c
}

func (c *cli) run(args ...string) subcommands.ExitStatus {
	c.t.Helper()
	c.out.Reset()
	c.errOut.Reset()

	fs := flag.NewFlagSet("stockctl", flag.ContinueOnError)
	commander := subcommands.NewCommander(fs, "stockctl")
	register(commander)
	require.NoError(c.t, fs.Parse(args))
	return commander.Execute(context.Background())
}

func TestCLI_SessionLifecycle(t *testing.T) {
	c := newCLI(t)

	require.Equal(t, subcommands.ExitSuccess, c.run("signup", "alice"), c.errOut.String())
	assert.Contains(t, c.out.String(), "Welcome, alice!")
	assert.Contains(t, c.out.String(), "5,000.00")

	name, err := rememberedUser(c.session)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	assert.Equal(t, subcommands.ExitSuccess, c.run("whoami"))
	assert.Contains(t, c.out.String(), "alice")

	assert.Equal(t, subcommands.ExitSuccess, c.run("logout"))
	_, err = os.Stat(c.session)
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, subcommands.ExitFailure, c.run("whoami"))
	assert.Contains(t, c.errOut.String(), "not signed in")

	assert.Equal(t, subcommands.ExitFailure, c.run("login", "bob"))
	assert.Equal(t, subcommands.ExitSuccess, c.run("login", "ALICE"))
	assert.Contains(t, c.out.String(), "Welcome back, alice!")
}

func TestCLI_RestoreFailureForgetsSession(t *testing.T) {
	c := newCLI(t)
	require.NoError(t, rememberUser(c.session, "ghost"))

	assert.Equal(t, subcommands.ExitFailure, c.run("whoami"))
	assert.Contains(t, c.errOut.String(), "could not be restored")

	name, err := rememberedUser(c.session)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestCLI_Trading(t *testing.T) {
	c := newCLI(t)
	require.Equal(t, subcommands.ExitSuccess, c.run("signup", "carol"))

	require.Equal(t, subcommands.ExitSuccess, c.run("buy", "acme", "2"), c.errOut.String())
	assert.Contains(t, c.out.String(), "Bought 2 ACME")

	assert.Equal(t, subcommands.ExitFailure, c.run("deposit", "50"))
	assert.Contains(t, c.errOut.String(), "minimum deposit")

	assert.Equal(t, subcommands.ExitSuccess, c.run("deposit", "100"))
	assert.Equal(t, subcommands.ExitUsageError, c.run("buy", "ACME", "0"))

	assert.Equal(t, subcommands.ExitFailure, c.run("sell", "ACME", "5"))
	assert.Contains(t, c.errOut.String(), "don't own enough")

	assert.Equal(t, subcommands.ExitFailure, c.run("buy", "ACME", "1000"))
	assert.Contains(t, c.errOut.String(), "Insufficient funds")

	assert.Equal(t, subcommands.ExitFailure, c.run("buy", "NOPE", "1"))
	assert.Contains(t, c.errOut.String(), "Unknown ticker")

	assert.Equal(t, subcommands.ExitSuccess, c.run("sell", "ACME", "1"))
	assert.Equal(t, subcommands.ExitSuccess, c.run("watch", "idxf"))
	assert.Equal(t, subcommands.ExitSuccess, c.run("watch", "IDXF"))
	assert.Contains(t, c.out.String(), "Watchlist unchanged.")

	a, err := c.store.GetAccount(context.Background(), "carol")
	require.NoError(t, err)
	assert.True(t, a.Wallet.Equal(decimal.NewFromInt(5000)), "wallet %s", a.Wallet)
	assert.Equal(t, []string{"IDXF"}, a.Watchlist)
	require.Len(t, a.Holdings, 1)
	assert.EqualValues(t, 1, a.Holdings[0].Quantity)

	assert.Equal(t, subcommands.ExitSuccess, c.run("portfolio"))
	assert.Contains(t, c.out.String(), "ACME")

	assert.Equal(t, subcommands.ExitSuccess, c.run("market", "-type", "ETF"))
	assert.Contains(t, c.out.String(), "IDXF")
	assert.NotContains(t, c.out.String(), "ACME")
}

func TestCLI_Feedback(t *testing.T) {
	c := newCLI(t)
	assert.Equal(t, subcommands.ExitUsageError, c.run("feedback", "no subject"))

	require.Equal(t, subcommands.ExitSuccess, c.run("signup", "dora"))

	assert.Equal(t, subcommands.ExitFailure, c.run("feedback", "-subject", "Hi", "the charts are lovely to read"))
	assert.Contains(t, c.errOut.String(), "subject must be at least 5 characters")
	assert.Equal(t, subcommands.ExitFailure, c.run("feedback", "-subject", strings.Repeat("s", 101), "the charts are lovely to read"))
	assert.Contains(t, c.errOut.String(), "subject must be at most 100 characters")
	assert.Equal(t, subcommands.ExitFailure, c.run("feedback", "-subject", "Charts", "love", "them"))
	assert.Contains(t, c.errOut.String(), "feedback must be at least 20 characters")
	assert.Equal(t, subcommands.ExitFailure, c.run("feedback", "-subject", "Charts", strings.Repeat("x", 2001)))
	assert.Contains(t, c.errOut.String(), "feedback must be at most 2000 characters")
	assert.Empty(t, c.store.Feedback())

	assert.Equal(t, subcommands.ExitSuccess, c.run("feedback", "-subject", "Charts", "the", "charts", "are", "lovely", "to", "read"))

	fb := c.store.Feedback()
	require.Len(t, fb, 1)
	assert.Equal(t, "dora", fb[0].Username)
	assert.Equal(t, "Charts", fb[0].Subject)
	assert.Equal(t, "the charts are lovely to read", fb[0].Message)
}

func TestCLI_SignupUsernameLength(t *testing.T) {
	c := newCLI(t)
	assert.Equal(t, subcommands.ExitFailure, c.run("signup", "al"))
	assert.Contains(t, c.errOut.String(), "username must be at least 3 characters")
	_, err := c.store.GetAccount(context.Background(), "al")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, subcommands.ExitSuccess, c.run("signup", "ali"))
}

func TestCLI_AssistantUnavailable(t *testing.T) {
	c := newCLI(t)
	assert.Equal(t, subcommands.ExitFailure, c.run("ask", "what", "is", "an", "ETF?"))
	assert.Contains(t, c.errOut.String(), "Sorry, I encountered an error.")
}

func TestINR(t *testing.T) {
	assert.Contains(t, inr(decimal.RequireFromString("1234.5")), "1,234.50")
	assert.Contains(t, inr(decimal.RequireFromString("0.005")), "0.01")
}

func TestSignedPercent(t *testing.T) {
	assert.Equal(t, "+2.50%", signedPercent(decimal.RequireFromString("2.5")))
	assert.Equal(t, "-1.00%", signedPercent(decimal.NewFromInt(-1)))
	assert.Equal(t, "0.00%", signedPercent(decimal.Zero))
}
