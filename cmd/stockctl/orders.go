package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/stockflow/market-sim/internal/client"
	"github.com/stockflow/market-sim/internal/ledger"
	"github.com/stockflow/market-sim/internal/session"
)

// minDeposit is the smallest top-up the client accepts.
var minDeposit = decimal.NewFromInt(100)

type depositCmd struct{}

func (*depositCmd) Name() string     { return "deposit" }
func (*depositCmd) Synopsis() string { return "add funds to the wallet" }
func (*depositCmd) Usage() string {
	return `stockctl deposit <amount>

  Adds funds to the wallet. The minimum deposit is 100.
`
}
func (*depositCmd) SetFlags(*flag.FlagSet) {}

func (*depositCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	amount, err := decimal.NewFromString(f.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "invalid amount %q\n", f.Arg(0))
		return subcommands.ExitUsageError
	}
	if amount.LessThan(minDeposit) {
		fmt.Fprintf(stderr, "minimum deposit is %s\n", inr(minDeposit))
		return subcommands.ExitFailure
	}

	a := openApp(ctx)
	defer a.close()

	ch, err := a.sess.Deposit(ctx, amount)
	if err != nil {
		return reportLedgerError(err)
	}
	fmt.Fprintf(stdout, "Deposited %s. Wallet: %s\n", inr(amount), inr(ch.Account.Wallet))
	return subcommands.ExitSuccess
}

// orderCmd is both buy and sell; orders fill at the live price.
type orderCmd struct {
	side string
}

func (c *orderCmd) Name() string { return c.side }
func (c *orderCmd) Synopsis() string {
	if c.side == "buy" {
		return "buy shares at the live price"
	}
	return "sell shares at the live price"
}
func (c *orderCmd) Usage() string {
	return fmt.Sprintf("stockctl %s <ticker> <quantity>\n", c.side)
}
func (*orderCmd) SetFlags(*flag.FlagSet) {}

func (c *orderCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	qty, err := strconv.ParseInt(f.Arg(1), 10, 64)
	if err != nil || qty <= 0 {
		fmt.Fprintf(stderr, "invalid quantity %q\n", f.Arg(1))
		return subcommands.ExitUsageError
	}

	a := openApp(ctx)
	defer a.close()

	if _, err := a.account(); err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	inst, err := a.api.Instrument(ctx, f.Arg(0))
	if err != nil {
		return reportLedgerError(err)
	}

	fill := a.sess.Buy
	if c.side == "sell" {
		fill = a.sess.Sell
	}
	ch, err := fill(ctx, inst.Ticker, qty, inst.Price)
	if err != nil {
		return reportLedgerError(err)
	}

	verb := "Bought"
	if c.side == "sell" {
		verb = "Sold"
	}
	fmt.Fprintf(stdout, "%s %d %s at %s for %s. Wallet: %s\n",
		verb, qty, inst.Ticker, inr(inst.Price), inr(ch.Transaction.Amount), inr(ch.Account.Wallet))
	return subcommands.ExitSuccess
}

type watchCmd struct {
	remove bool
}

func (c *watchCmd) Name() string {
	if c.remove {
		return "unwatch"
	}
	return "watch"
}
func (c *watchCmd) Synopsis() string {
	if c.remove {
		return "remove a ticker from the watchlist"
	}
	return "add a ticker to the watchlist"
}
func (c *watchCmd) Usage() string {
	return fmt.Sprintf("stockctl %s <ticker>\n", c.Name())
}
func (*watchCmd) SetFlags(*flag.FlagSet) {}

func (c *watchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a := openApp(ctx)
	defer a.close()

	if _, err := a.account(); err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	inst, err := a.api.Instrument(ctx, f.Arg(0))
	if err != nil {
		return reportLedgerError(err)
	}

	toggle := a.sess.AddToWatchlist
	if c.remove {
		toggle = a.sess.RemoveFromWatchlist
	}
	ch, changed, err := toggle(ctx, inst.Ticker)
	if err != nil {
		return reportLedgerError(err)
	}
	if !changed {
		fmt.Fprintln(stdout, "Watchlist unchanged.")
	}
	fmt.Fprintf(stdout, "Watchlist: %s\n", strings.Join(ch.Account.Watchlist, ", "))
	return subcommands.ExitSuccess
}

type portfolioCmd struct{}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "show holdings valued at live prices" }
func (*portfolioCmd) Usage() string {
	return `stockctl portfolio
`
}
func (*portfolioCmd) SetFlags(*flag.FlagSet) {}

func (*portfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := openApp(ctx)
	defer a.close()

	acct, err := a.account()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	p, err := a.api.Portfolio(ctx, acct.User.Name)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "TICKER\tQTY\tAVG PRICE\tPRICE\tVALUE\tP&L\t%\t")
	for _, pos := range p.Positions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t\n",
			pos.Ticker, pos.Quantity, inr(pos.AvgBuyPrice), inr(pos.Price),
			inr(pos.MarketValue), inr(pos.ProfitLoss), signedPercent(pos.ProfitLossPercent))
	}
	w.Flush()

	fmt.Fprintf(stdout, "\nInvested %s, worth %s (%s %s). Cash %s. Net worth %s.\n",
		inr(p.Invested), inr(p.MarketValue), inr(p.ProfitLoss), signedPercent(p.ProfitLossPercent),
		inr(p.Cash), inr(p.NetWorth))
	return subcommands.ExitSuccess
}

// reportLedgerError prints a user-facing message for err.
func reportLedgerError(err error) subcommands.ExitStatus {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		fmt.Fprintln(stderr, "Insufficient funds.")
	case errors.Is(err, ledger.ErrNoSuchPosition), errors.Is(err, ledger.ErrInsufficientQuantity):
		fmt.Fprintln(stderr, "You don't own enough shares to sell.")
	case errors.Is(err, client.ErrUnknownTicker):
		fmt.Fprintln(stderr, "Unknown ticker.")
	case errors.Is(err, session.ErrPersistence):
		fmt.Fprintln(stderr, "Could not save the change, nothing was applied:", err)
	default:
		fmt.Fprintln(stderr, err)
	}
	return subcommands.ExitFailure
}
