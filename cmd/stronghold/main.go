// Package main starts the step-up authentication service and handles
// termination.
//
// The process hosts the session lifecycle REST surface and the realtime
// transports that push completion events to waiting devices.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	strongholdcmd "github.com/strongholdauth/stronghold/internal/cmd/stronghold"
)

func main() {
	cfg, err := strongholdcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[STRONGHOLD] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := strongholdcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
