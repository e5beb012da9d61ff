package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mlsorensen/goremote/internal/config"
	"github.com/mlsorensen/goremote/internal/relay"
	_ "github.com/mlsorensen/goremote/pkg/transports/mock"
)

// mockremote runs the relay against an in-memory device that echoes every
// command back, to try the key map without hardware.
func main() {
	cfg := config.Defaults()
	config.ApplyEnvOverrides(cfg)
	cfg.Discovery = "static"
	cfg.Transport = "mock"
	cfg.Mock.Echo = true
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := relay.RunTerminal(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
