// Package relay assembles a session from config and runs it behind one of
// the key sources.
package relay

import (
	"context"
	"log/slog"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"

	"github.com/mlsorensen/goremote"
	"github.com/mlsorensen/goremote/internal/config"
	"github.com/mlsorensen/goremote/internal/logger"
	"github.com/mlsorensen/goremote/pkg/discovery/bluez"
	"github.com/mlsorensen/goremote/pkg/input/tui"
	"github.com/mlsorensen/goremote/pkg/input/window"
)

// how long a closed window waits for the shutdown write before giving up
const windowShutdownGrace = 5 * time.Second

// KeySource is what a session needs from an input front end.
type KeySource interface {
	Keys() <-chan goremote.Key
	OnStateChange(goremote.State)
	OnCommand(goremote.Key, string)
}

func NewDiscoverer(cfg *config.Config) goremote.Discoverer {
	switch cfg.Discovery {
	case "ble":
		return goremote.BLEScanner{}
	case "static":
		return goremote.StaticDiscoverer{Devices: []goremote.Device{{Address: goremote.NormalizeAddress(cfg.Target)}}}
	default:
		return bluez.Discoverer{}
	}
}

func NewSession(cfg *config.Config, src KeySource, log *slog.Logger) (*goremote.Session, error) {
	opts := cfg.TransportOptions()
	return goremote.NewSession(goremote.SessionConfig{
		Target:     cfg.Target,
		Discoverer: NewDiscoverer(cfg),
		NewTransport: func(d *goremote.Device) (goremote.Transport, error) {
			return goremote.NewTransportForDevice(cfg.Transport, d, opts)
		},
		Keys:          src.Keys(),
		Logger:        log,
		OnStateChange: src.OnStateChange,
		OnCommand:     src.OnCommand,
	})
}

// Run picks the front end named by cfg.Input.
func Run(ctx context.Context, cfg *config.Config) error {
	if cfg.Input == "window" {
		return RunWindow(ctx, cfg)
	}
	return RunTerminal(ctx, cfg)
}

// RunTerminal runs a session with keys read from the terminal.
func RunTerminal(ctx context.Context, cfg *config.Config) error {
	src := tui.New(cfg.Target)
	if err := src.Start(); err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.Logger, src.LogWriter())
	if err != nil {
		_ = src.Stop()
		return err
	}
	defer closer()
	slog.SetDefault(log)

	sess, err := NewSession(cfg, src, log)
	if err != nil {
		_ = src.Stop()
		return err
	}

	runErr := sess.Run(ctx)
	if err := src.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// RunWindow runs a session with keys read from a fyne window. It must be
// called from the main goroutine.
func RunWindow(ctx context.Context, cfg *config.Config) error {
	log, closer, err := logger.New(cfg.Logger, nil)
	if err != nil {
		return err
	}
	defer closer()
	slog.SetDefault(log)

	a := app.New()
	win := window.New(a, cfg.Target)

	sess, err := NewSession(cfg, win, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(ctx)
		fyne.Do(a.Quit)
	}()

	win.Window().ShowAndRun()

	// closing the window sent the interrupt; give the shutdown write a moment
	select {
	case err := <-errCh:
		return err
	case <-time.After(windowShutdownGrace):
		cancel()
		return <-errCh
	}
}
