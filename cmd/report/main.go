package main

import (
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/PatchLens/go-zone-weaver/weave"
)

type chartCmd struct {
	Json   string `default:"weave-report.json" help:"Weave report to render." type:"existingfile"`
	Charts string `default:"weave-report.png" help:"File to output the overview chart image."`
}

func (c *chartCmd) Run() error {
	report, err := weave.ReadReportFile(c.Json)
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	} else if err := report.WriteChartFile(c.Charts); err != nil {
		return err
	}
	log.Println("Report file wrote: " + c.Charts)
	return nil
}

type ledgerCmd struct {
	Ledger string `required:"" help:"Weave ledger directory." type:"existingdir"`
	Module string `arg:"" help:"Module name to list outcomes for."`
}

func (c *ledgerCmd) Run() error {
	store, err := weave.NewBadgerStorage(c.Ledger, 16, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	outcomes, err := weave.LoadOutcomes(store, c.Module)
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		if o.Reason != "" {
			fmt.Printf("%-8s %s (%s)\n", o.Status, o.Label, o.Reason)
		} else {
			fmt.Printf("%-8s %s %s:%d %s\n", o.Status, o.Label, o.File, o.Line, o.Fingerprint)
		}
	}
	return nil
}

var cli struct {
	Chart  chartCmd  `cmd:"" default:"withargs" help:"Render the overview chart from a weave report."`
	Ledger ledgerCmd `cmd:"" help:"List the recorded outcomes of a module."`
}

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	ctx := kong.Parse(&cli, kong.Name("report"), kong.UsageOnError())
	if err := ctx.Run(); err != nil {
		log.Printf("%s%v", weave.ErrorLogPrefix, err)
		os.Exit(1)
	}
}
