package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mlsorensen/goremote/internal/config"
	"github.com/mlsorensen/goremote/internal/relay"

	// This tells the Go compiler to include the package, which runs its init()
	// function. The init() function, in turn, calls goremote.Register().
	_ "github.com/mlsorensen/goremote/pkg/transports/all"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// ctrl+c reaches the session as a key; signals from elsewhere cancel it
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := relay.Run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
