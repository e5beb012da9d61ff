// Package serial reaches a device through a serial port the OS already bound
// to it, such as /dev/rfcomm0 on Linux or an outgoing COM port on Windows.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/mlsorensen/goremote"
)

const (
	defaultBaud        = 9600
	defaultReadTimeout = 100 * time.Millisecond
)

func init() {
	goremote.Register("serial", New)
}

// openPort is replaced in tests.
var openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(c)
}

var _ goremote.Transport = (*Transport)(nil)

type Transport struct {
	cfg     serial.Config
	channel int

	mu     sync.Mutex
	port   io.ReadWriteCloser
	closed bool
	done   chan struct{}
}

func New(device *goremote.Device, opts goremote.TransportOptions) goremote.Transport {
	cfg := serial.Config{
		Name:        opts.SerialDevice,
		Baud:        opts.SerialBaud,
		ReadTimeout: opts.SerialReadTimeout,
	}
	if cfg.Baud == 0 {
		cfg.Baud = defaultBaud
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	channel := opts.Channel
	if channel == 0 {
		channel = 1
	}
	return &Transport{cfg: cfg, channel: channel, done: make(chan struct{})}
}

// Resolve reports the channel the port was bound to. The OS did the
// resolution when it created the port.
func (t *Transport) Resolve(ctx context.Context) (int, error) {
	if t.cfg.Name == "" {
		return 0, fmt.Errorf("%w: no serial device configured", goremote.ErrNoChannel)
	}
	return t.channel, nil
}

func (t *Transport) Connect(ctx context.Context, channel int) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, goremote.ErrClosed
	}

	p, err := openPort(&t.cfg)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s failed: %w", t.cfg.Name, err)
	}
	t.port = p

	rx := make(chan []byte, 16)
	go t.readLoop(p, rx)
	return rx, nil
}

// readLoop polls the port. A read timeout surfaces as zero bytes or io.EOF
// and is not an error.
func (t *Transport) readLoop(r io.Reader, rx chan<- []byte) {
	defer close(rx)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case rx <- append([]byte(nil), buf[:n]...):
			case <-t.done:
				return
			}
		}
		select {
		case <-t.done:
			return
		default:
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return
		}
	}
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	port, closed := t.port, t.closed
	t.mu.Unlock()

	if closed {
		return 0, goremote.ErrClosed
	}
	if port == nil {
		return 0, goremote.ErrNotConnected
	}
	n, err := port.Write(p)
	if err != nil {
		return n, fmt.Errorf("serial write failed: %w", err)
	}
	return n, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if t.port != nil {
		return t.port.Close()
	}
	return nil
}
