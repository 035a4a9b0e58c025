package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"

	"github.com/stockflow/market-sim/internal/assistant"
)

type askCmd struct {
	raw bool
}

func (*askCmd) Name() string     { return "ask" }
func (*askCmd) Synopsis() string { return "ask the StockFlow assistant a question" }
func (*askCmd) Usage() string {
	return `stockctl ask [-raw] <question...>

  Sends the question to the support assistant and renders the markdown reply.
`
}

func (c *askCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.raw, "raw", false, "Print the reply without markdown rendering.")
}

func (c *askCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	query := strings.Join(f.Args(), " ")
	if strings.TrimSpace(query) == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a := openApp(ctx)
	defer a.close()

	reply, err := a.api.Ask(ctx, query, nil)
	if err != nil {
		if errors.Is(err, assistant.ErrUnavailable) || errors.Is(err, assistant.ErrUpstream) {
			fmt.Fprintln(stderr, assistant.FallbackReply)
		} else {
			fmt.Fprintln(stderr, err)
		}
		return subcommands.ExitFailure
	}

	fmt.Fprint(stdout, render(reply, c.raw))
	return subcommands.ExitSuccess
}

// render formats markdown for the terminal, falling back to the raw text.
func render(md string, raw bool) string {
	if raw {
		return md + "\n"
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		return md + "\n"
	}
	out, err := r.Render(md)
	if err != nil {
		return md + "\n"
	}
	return out
}

type avatarCmd struct {
	save bool
}

func (*avatarCmd) Name() string     { return "avatar" }
func (*avatarCmd) Synopsis() string { return "generate a cartoon avatar" }
func (*avatarCmd) Usage() string {
	return `stockctl avatar [-save] <description...>

  Generates an avatar from the description and prints its data URI. With
  -save it becomes the signed-in user's avatar.
`
}

func (c *avatarCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.save, "save", false, "Save the generated avatar to the account.")
}

func (c *avatarCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	prompt := strings.Join(f.Args(), " ")
	if strings.TrimSpace(prompt) == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a := openApp(ctx)
	defer a.close()

	if c.save {
		if _, err := a.account(); err != nil {
			fmt.Fprintln(stderr, err)
			return subcommands.ExitFailure
		}
	}

	uri, err := a.api.Avatar(ctx, prompt)
	if err != nil {
		fmt.Fprintln(stderr, "Failed to generate avatar:", err)
		return subcommands.ExitFailure
	}

	if c.save {
		if _, err := a.sess.SetAvatar(ctx, uri); err != nil {
			return reportLedgerError(err)
		}
		fmt.Fprintln(stdout, "Avatar saved.")
		return subcommands.ExitSuccess
	}
	fmt.Fprintln(stdout, uri)
	return subcommands.ExitSuccess
}
