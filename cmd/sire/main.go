// Package main starts the SIRE simulation server and handles termination.
//
// The process hosts the session REST API and the realtime /sim socket in one
// listener; session state lives in memory for the life of the process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	sirecmd "github.com/sire-training/sire/internal/cmd/sire"
)

func main() {
	cfg, err := sirecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SIRE] ")
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sirecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
