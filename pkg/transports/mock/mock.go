// Package mock provides a mock implementation of the goremote.Transport interface.
// It is intended for development and testing purposes when a physical device is not available.
package mock

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mlsorensen/goremote"
)

// This init function registers the mock transport with the central registry.
// To use it, you must explicitly import this package.
func init() {
	goremote.Register("mock", New)
}

// This line is the compile-time check. It will fail to compile if
// *Transport ever stops satisfying the goremote.Transport interface.
var _ goremote.Transport = (*Transport)(nil)

// Transport is a simulated serial link that records every write.
type Transport struct {
	mu        sync.Mutex
	address   string
	channel   int
	echo      bool
	connected bool
	closed    bool

	// ResolveErr, ConnectErr and WriteErr make the matching call fail.
	ResolveErr error
	ConnectErr error
	WriteErr   error

	writes  [][]byte
	rx      chan []byte
	resolve int
	connect int
	closes  int
}

// New creates a new mock transport. A zero opts.Channel resolves to channel 1.
func New(device *goremote.Device, opts goremote.TransportOptions) goremote.Transport {
	return NewTransport(device.Address, opts.Channel, opts.Echo)
}

// NewTransport returns a concrete mock, for tests that inspect it.
func NewTransport(address string, channel int, echo bool) *Transport {
	if channel == 0 {
		channel = 1
	}
	return &Transport{address: address, channel: channel, echo: echo}
}

func (t *Transport) Resolve(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolve++
	if t.ResolveErr != nil {
		return 0, t.ResolveErr
	}
	return t.channel, nil
}

// Connect starts the simulation.
func (t *Transport) Connect(ctx context.Context, channel int) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connect++

	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	if t.closed {
		return nil, goremote.ErrClosed
	}
	if t.connected {
		return nil, fmt.Errorf("mock transport is already connected")
	}

	log.Printf("MOCK: Connected to %s on channel %d.", t.address, channel)
	t.connected = true
	t.rx = make(chan []byte, 64)
	return t.rx, nil
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return 0, goremote.ErrNotConnected
	}
	if t.WriteErr != nil {
		return 0, t.WriteErr
	}
	t.writes = append(t.writes, append([]byte(nil), p...))

	if t.echo {
		select {
		case t.rx <- append([]byte(nil), p...):
		default:
			log.Println("MOCK: receive buffer full, dropping echo")
		}
	}
	return len(p), nil
}

// Inject simulates the device sending data.
func (t *Transport) Inject(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		t.rx <- data
	}
}

// Close stops the simulation.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++

	if t.closed {
		return nil
	}
	t.closed = true
	if t.connected {
		t.connected = false
		close(t.rx)
		log.Println("MOCK: Disconnected.")
	}
	return nil
}

// Writes returns a copy of every payload written so far, as strings.
func (t *Transport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.writes))
	for i, w := range t.writes {
		out[i] = string(w)
	}
	return out
}

// Calls reports how many times Resolve, Connect and Close were called.
func (t *Transport) Calls() (resolve, connect, close int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolve, t.connect, t.closes
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
