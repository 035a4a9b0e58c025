package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/stockflow/market-sim/internal/client"
	"github.com/stockflow/market-sim/internal/model"
	"github.com/stockflow/market-sim/internal/session"
)

const currency = "INR"

var (
	serverURL   = flag.String("server", envOr("STOCKFLOW_SERVER", "http://localhost:8080"), "StockFlow server base URL")
	sessionFile = flag.String("session-file", defaultSessionFile(), "File remembering the signed-in username")
)

// stdout and stderr are swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

var errSignedOut = errors.New("not signed in, run signup or login first")

// app is the per-invocation state shared by commands.
type app struct {
	api  *client.Client
	sess *session.Session
}

// openApp connects to the server and restores the remembered session. A
// remembered username that no longer loads is forgotten.
func openApp(ctx context.Context) *app {
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	api := client.New(*serverURL)
	a := &app{api: api, sess: session.New(api, nil, logger)}

	name, err := rememberedUser(*sessionFile)
	if err != nil {
		fmt.Fprintln(stderr, "warning: cannot read session:", err)
		return a
	}
	if name == "" {
		return a
	}
	if err := a.sess.Restore(ctx, name); err != nil {
		fmt.Fprintf(stderr, "warning: session for %q could not be restored: %v\n", name, err)
		if err := forgetUser(*sessionFile); err != nil {
			fmt.Fprintln(stderr, "warning: cannot clear session:", err)
		}
	}
	return a
}

func (a *app) close() {
	a.api.Close()
}

// account returns the signed-in account or errSignedOut.
func (a *app) account() (model.Account, error) {
	acct, ok := a.sess.Account()
	if !ok {
		return model.Account{}, errSignedOut
	}
	return acct, nil
}

// --- Remembered session ---

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stockflow-session"
	}
	return filepath.Join(home, ".stockflow", "session")
}

// rememberedUser returns the remembered username, or "" when there is none.
func rememberedUser(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func rememberUser(path, username string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(username+"\n"), 0o600)
}

func forgetUser(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// --- Formatting ---

// inr formats an amount as Indian rupees, rounded to the paisa.
func inr(amount decimal.Decimal) string {
	cur := money.GetCurrency(currency)
	minor := amount.Round(int32(cur.Fraction)).Shift(int32(cur.Fraction))
	return money.New(minor.IntPart(), currency).Display()
}

// signedPercent renders a percentage with an explicit sign.
func signedPercent(p decimal.Decimal) string {
	s := p.StringFixed(2) + "%"
	if p.IsPositive() {
		return "+" + s
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
