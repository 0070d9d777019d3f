package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/PatchLens/go-zone-weaver/weave"
	"github.com/PatchLens/go-zone-weaver/weave/cmd"
)

func main() {
	log.SetFlags(log.LstdFlags)

	config, logOpts, err := cmd.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("%s%v", weave.ErrorLogPrefix, err)
	}
	logger, err := weave.NewLogger(logOpts.Level, logOpts.Format)
	if err != nil {
		log.Fatalf("%s%v", weave.ErrorLogPrefix, err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := weave.NewWeaveEngine(config, logger).Run(ctx); err != nil {
		logger.Error(weave.ErrorLogPrefix+"weave failed", zap.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
}
