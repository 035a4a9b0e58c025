package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/stockflow/market-sim/internal/model"
)

type marketCmd struct {
	kind     string
	category string
}

func (*marketCmd) Name() string     { return "market" }
func (*marketCmd) Synopsis() string { return "list instruments with live prices" }
func (*marketCmd) Usage() string {
	return `stockctl market [-type Stock|ETF] [-category <category>]
`
}

func (c *marketCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.kind, "type", "", "Only list instruments of this type (Stock or ETF).")
	f.StringVar(&c.category, "category", "", "Only list instruments of this category.")
}

func (c *marketCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := openApp(ctx)
	defer a.close()

	items, err := a.api.Instruments(ctx, model.InstrumentKind(c.kind), c.category)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TICKER\tNAME\tTYPE\tCATEGORY\tPRICE\tCHANGE")
	for _, inst := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			inst.Ticker, inst.Name, inst.Kind, inst.Category, inr(inst.Price), signedPercent(inst.ChangePercent))
	}
	w.Flush()
	return subcommands.ExitSuccess
}
