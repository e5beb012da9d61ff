package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mlsorensen/goremote/internal/config"
	"github.com/mlsorensen/goremote/internal/relay"

	// This tells the Go compiler to include the package, which runs its init()
	// function. The init() function, in turn, calls goremote.Register(). You can
	// specify specific transports individually or just "all"
	_ "github.com/mlsorensen/goremote/pkg/transports/all"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	cfg.Input = "window"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relay.RunWindow(ctx, cfg); err != nil {
		log.Printf("Session ended with error: %v", err)
	}
}
