package goremote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

var (
	// ErrNotSupported is returned by transports that cannot run on this platform.
	ErrNotSupported = errors.New("operation not supported on this platform")
	// ErrNoChannel is returned when channel resolution found no usable channel.
	ErrNoChannel = errors.New("no serial channel found")
	// ErrNotConnected is returned when writing to a transport that is not connected.
	ErrNotConnected = errors.New("transport is not connected")
	// ErrClosed is returned when using a transport after Close.
	ErrClosed = errors.New("transport is closed")
	// ErrDiscoveryEnded is returned when discovery stopped before the target was seen.
	ErrDiscoveryEnded = errors.New("discovery ended")
)

// Device is a Bluetooth device seen during discovery.
type Device struct {
	Address string
	Name    string
	Channel int
	RSSI    int

	// BLEAddress is set when the device was seen by the BLE scanner and is
	// required by transports that connect over BLE.
	BLEAddress *bluetooth.Address
}

func (d Device) String() string {
	if d.Name == "" {
		return d.Address
	}
	return fmt.Sprintf("%s - %s", d.Address, d.Name)
}

// NormalizeAddress returns addr in upper case with ':' separators, so that
// "20-16-06-30-69-09" and "20:16:06:30:69:09" compare equal.
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(addr), "-", ":"))
}

// Transport is a duplex byte stream to a single device.
// Implementations of this interface handle one way of reaching the device.
type Transport interface {
	// Resolve finds the channel to connect on. It must be called before Connect.
	Resolve(ctx context.Context) (int, error)

	// Connect opens the stream on channel and returns a read-only channel of
	// received data. The channel is closed when the stream ends.
	Connect(ctx context.Context, channel int) (<-chan []byte, error)

	// Write sends p as-is, with no framing.
	Write(p []byte) (int, error)

	// Close terminates the stream. It is safe to call more than once.
	Close() error
}

// Discoverer streams devices until ctx is cancelled.
type Discoverer interface {
	Discover(ctx context.Context) (<-chan Device, error)
}

// TransportOptions carries the per-kind settings a Factory may need.
type TransportOptions struct {
	// Channel overrides channel resolution when non-zero.
	Channel int

	SerialDevice      string
	SerialBaud        int
	SerialReadTimeout time.Duration

	ServiceUUID string
	CharUUID    string

	// Echo makes the mock transport report every write back as received data.
	Echo bool
}

// --- Implementation Registry ---

// Factory is a function that creates a new Transport for a device.
type Factory func(*Device, TransportOptions) Transport

var (
	registry = make(map[string]Factory)
	regLock  = sync.RWMutex{}
)

// Register makes a transport implementation available by kind.
// This function should be called from the init() function of the implementation's package.
func Register(kind string, factory Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	if _, found := registry[kind]; found {
		log.Printf("warning: transport implementation for kind '%s' is being overwritten", kind)
	}
	registry[kind] = factory
}

// NewTransportForDevice finds the registered factory for kind and creates a
// Transport for device.
func NewTransportForDevice(kind string, device *Device, opts TransportOptions) (Transport, error) {
	regLock.RLock()
	defer regLock.RUnlock()

	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("no transport registered for kind '%s'", kind)
	}
	return factory(device, opts), nil
}

// Kinds lists the registered transport kinds in sorted order.
func Kinds() []string {
	regLock.RLock()
	defer regLock.RUnlock()

	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
