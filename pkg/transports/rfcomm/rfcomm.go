// Package rfcomm connects to classic Bluetooth serial devices (SPP) over an
// RFCOMM socket, resolving the channel with an SDP query.
package rfcomm

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/mlsorensen/goremote"
	"github.com/mlsorensen/goremote/pkg/transports/rfcomm/sdp"
)

func init() {
	goremote.Register("rfcomm", New)
}

var _ goremote.Transport = (*Transport)(nil)

type Transport struct {
	address string
	channel int

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	closed bool
	done   chan struct{}
}

func New(device *goremote.Device, opts goremote.TransportOptions) goremote.Transport {
	return &Transport{
		address: device.Address,
		channel: opts.Channel,
		done:    make(chan struct{}),
	}
}

// parseAddress turns "20:16:06:30:69:09" into its six bytes, most
// significant first.
func parseAddress(s string) ([6]byte, error) {
	var addr [6]byte
	parts := strings.Split(goremote.NormalizeAddress(s), ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return addr, fmt.Errorf("invalid bluetooth address %q", s)
		}
		addr[i] = b[0]
	}
	return addr, nil
}

// Resolve returns the configured channel, or asks the device's SDP server
// for the channel of its Serial Port service.
func (t *Transport) Resolve(ctx context.Context) (int, error) {
	if t.channel > 0 {
		return t.channel, nil
	}
	addr, err := parseAddress(t.address)
	if err != nil {
		return 0, err
	}

	log.Printf("Querying SDP on %s for the serial port channel...", t.address)
	conn, err := dialSDP(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("connect to SDP server: %w", err)
	}
	defer conn.Close()

	channel, err := sdp.Query(conn, sdp.UUIDSerialPort)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", goremote.ErrNoChannel, err)
	}
	return channel, nil
}

func (t *Transport) Connect(ctx context.Context, channel int) (<-chan []byte, error) {
	if channel < 1 || channel > 30 {
		return nil, fmt.Errorf("rfcomm channel %d out of range 1-30", channel)
	}
	addr, err := parseAddress(t.address)
	if err != nil {
		return nil, err
	}

	conn, err := dialRFCOMM(ctx, addr, uint8(channel))
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = conn.Close()
		return nil, goremote.ErrClosed
	}
	t.conn = conn

	rx := make(chan []byte, 16)
	go t.readLoop(conn, rx)
	return rx, nil
}

func (t *Transport) readLoop(r io.Reader, rx chan<- []byte) {
	defer close(rx)
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case rx <- append([]byte(nil), buf[:n]...):
			case <-t.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return 0, goremote.ErrClosed
	}
	if conn == nil {
		return 0, goremote.ErrNotConnected
	}
	return conn.Write(p)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
