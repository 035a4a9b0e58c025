// Command stockctl is a terminal client for a StockFlow server.
//
// The signed-in username is remembered between runs; ledger operations are
// computed locally and written through the server's account update endpoint.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	register(commander)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// register adds every stockctl command to c.
func register(c *subcommands.Commander) {
	c.Register(&signupCmd{}, "account")
	c.Register(&loginCmd{}, "account")
	c.Register(&logoutCmd{}, "account")
	c.Register(&whoamiCmd{}, "account")
	c.Register(&feedbackCmd{}, "account")

	c.Register(&depositCmd{}, "ledger")
	c.Register(&orderCmd{side: "buy"}, "ledger")
	c.Register(&orderCmd{side: "sell"}, "ledger")
	c.Register(&watchCmd{remove: false}, "ledger")
	c.Register(&watchCmd{remove: true}, "ledger")
	c.Register(&portfolioCmd{}, "ledger")

	c.Register(&marketCmd{}, "market")

	c.Register(&askCmd{}, "assistant")
	c.Register(&avatarCmd{}, "assistant")
}
