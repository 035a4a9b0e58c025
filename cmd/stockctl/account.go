package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/subcommands"

	"github.com/stockflow/market-sim/internal/model"
	"github.com/stockflow/market-sim/internal/store"
)

// Form limits applied before anything is sent to the server.
const (
	minUsernameLen = 3
	minSubjectLen  = 5
	maxSubjectLen  = 100
	minFeedbackLen = 20
	maxFeedbackLen = 2000
)

// checkLength reports a field whose length in characters falls outside
// [lo, hi]. A hi of zero means unbounded.
func checkLength(field, v string, lo, hi int) error {
	n := utf8.RuneCountInString(v)
	if n < lo {
		return fmt.Errorf("%s must be at least %d characters", field, lo)
	}
	if hi > 0 && n > hi {
		return fmt.Errorf("%s must be at most %d characters", field, hi)
	}
	return nil
}

type signupCmd struct{}

func (*signupCmd) Name() string     { return "signup" }
func (*signupCmd) Synopsis() string { return "create an account and sign in" }
func (*signupCmd) Usage() string {
	return `stockctl signup <username>

  Usernames take at least 3 characters. Creates a new account seeded with the starting balance and remembers it
  as the signed-in user.
`
}
func (*signupCmd) SetFlags(*flag.FlagSet) {}

func (*signupCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	name := strings.TrimSpace(f.Arg(0))
	if f.NArg() != 1 || name == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := checkLength("username", name, minUsernameLen, 0); err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	a := openApp(ctx)
	defer a.close()

	acct, err := a.sess.SignUp(ctx, name)
	if errors.Is(err, store.ErrAlreadyExists) {
		fmt.Fprintf(stderr, "username %q is taken\n", name)
		return subcommands.ExitFailure
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	return signedIn(acct, "Welcome")
}

type loginCmd struct{}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "sign in to an existing account" }
func (*loginCmd) Usage() string {
	return `stockctl login <username>
`
}
func (*loginCmd) SetFlags(*flag.FlagSet) {}

func (*loginCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a := openApp(ctx)
	defer a.close()

	acct, err := a.sess.SignIn(ctx, f.Arg(0))
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(stderr, "no account named %q, run signup first\n", f.Arg(0))
		return subcommands.ExitFailure
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	return signedIn(acct, "Welcome back")
}

func signedIn(acct model.Account, greeting string) subcommands.ExitStatus {
	if err := rememberUser(*sessionFile, acct.User.Name); err != nil {
		fmt.Fprintln(stderr, "warning: cannot remember session:", err)
	}
	fmt.Fprintf(stdout, "%s, %s! Wallet: %s\n", greeting, acct.User.Name, inr(acct.Wallet))
	return subcommands.ExitSuccess
}

type logoutCmd struct{}

func (*logoutCmd) Name() string     { return "logout" }
func (*logoutCmd) Synopsis() string { return "forget the signed-in user" }
func (*logoutCmd) Usage() string {
	return `stockctl logout
`
}
func (*logoutCmd) SetFlags(*flag.FlagSet) {}

func (*logoutCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	if err := forgetUser(*sessionFile); err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(stdout, "Signed out.")
	return subcommands.ExitSuccess
}

type whoamiCmd struct{}

func (*whoamiCmd) Name() string     { return "whoami" }
func (*whoamiCmd) Synopsis() string { return "show the signed-in account" }
func (*whoamiCmd) Usage() string {
	return `stockctl whoami
`
}
func (*whoamiCmd) SetFlags(*flag.FlagSet) {}

func (*whoamiCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := openApp(ctx)
	defer a.close()

	acct, err := a.account()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(stdout, "%s\n  wallet:       %s\n  holdings:     %d\n  watchlist:    %s\n  transactions: %d\n",
		acct.User.Name, inr(acct.Wallet), len(acct.Holdings),
		strings.Join(acct.Watchlist, ", "), len(acct.Transactions))
	return subcommands.ExitSuccess
}

type feedbackCmd struct {
	subject string
}

func (*feedbackCmd) Name() string     { return "feedback" }
func (*feedbackCmd) Synopsis() string { return "send feedback to the StockFlow team" }
func (*feedbackCmd) Usage() string {
	return `stockctl feedback -subject <subject> <message...>

  The subject takes 5 to 100 characters, the message 20 to 2000.
`
}

func (c *feedbackCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.subject, "subject", "", "Feedback subject (required).")
}

func (c *feedbackCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	subject := strings.TrimSpace(c.subject)
	msg := strings.TrimSpace(strings.Join(f.Args(), " "))
	if subject == "" || msg == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := checkLength("subject", subject, minSubjectLen, maxSubjectLen); err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	if err := checkLength("feedback", msg, minFeedbackLen, maxFeedbackLen); err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	a := openApp(ctx)
	defer a.close()

	acct, err := a.account()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	fb := &model.Feedback{Username: acct.User.Name, Subject: subject, Message: msg}
	if err := a.api.InsertFeedback(ctx, fb); err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(stdout, "Thanks, your feedback was submitted.")
	return subcommands.ExitSuccess
}
