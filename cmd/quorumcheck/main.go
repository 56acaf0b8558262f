package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/st3v3nmw/quorumcheck/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Command().Run(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}
