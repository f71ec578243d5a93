// styleauth - continuous implicit authentication from writing style
//
//	styleauth train --data corpus.csv   Train a model bank per author
//	styleauth auth <user> <text>        Score one prompt
//	styleauth stream <user>             Score prompts from stdin with trust tracking
//	styleauth eval --data corpus.csv    Report FAR/FRR on held-out texts
//	styleauth users                     List users with stored banks
//	styleauth config init|show|validate Manage the configuration file
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
