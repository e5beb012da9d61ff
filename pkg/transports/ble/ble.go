// Package ble reaches serial bridges that speak BLE (HM-10 and clones)
// through a GATT characteristic.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/mlsorensen/goremote"
	"github.com/mlsorensen/goremote/pkg/transports/ble/comms"
)

func init() {
	goremote.Register("ble", New)
}

var _ goremote.Transport = (*Transport)(nil)

type Transport struct {
	name        string
	address     *bluetooth.Address
	channel     int
	serviceUUID string
	charUUID    string

	mu        sync.Mutex
	btDevice  bluetooth.Device
	char      bluetooth.DeviceCharacteristic
	gatt      bool
	connected bool
	closed    bool
	rx        chan []byte
}

func New(device *goremote.Device, opts goremote.TransportOptions) goremote.Transport {
	return &Transport{
		name:        device.Name,
		address:     device.BLEAddress,
		channel:     opts.Channel,
		serviceUUID: opts.ServiceUUID,
		charUUID:    opts.CharUUID,
	}
}

// dial is replaced in tests.
var dial = func(addr bluetooth.Address) (bluetooth.Device, error) {
	if err := goremote.TryEnableAdapter(); err != nil {
		return bluetooth.Device{}, err
	}
	return goremote.BTAdapter.Connect(addr, bluetooth.ConnectionParams{})
}

// Resolve connects to the device and finds the serial characteristic. The
// channel is its 1-based position among the service's characteristics; a
// configured channel selects the characteristic at that position instead.
// The lock is not held while connecting, so Close never waits on the radio.
func (t *Transport) Resolve(ctx context.Context) (int, error) {
	if t.address == nil {
		return 0, errors.New("device was not seen by the BLE scanner")
	}
	svcUUID, charUUID, err := comms.ParseUUIDs(t.serviceUUID, t.charUUID)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, goremote.ErrClosed
	}

	dev, err := dial(*t.address)
	if err != nil {
		return 0, err
	}
	char, channel, err := t.findCharacteristic(dev, svcUUID, charUUID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil && t.closed {
		// Close ran while we were connecting and had nothing to disconnect
		err = goremote.ErrClosed
	}
	if err != nil {
		if derr := dev.Disconnect(); derr != nil {
			log.Printf("disconnect failed: %v", derr)
		}
		return 0, err
	}
	t.btDevice = dev
	t.gatt = true
	t.char = char
	log.Printf("Using characteristic %s as channel %d", char.UUID(), channel)
	return channel, nil
}

func (t *Transport) findCharacteristic(dev bluetooth.Device, svcUUID, charUUID bluetooth.UUID) (bluetooth.DeviceCharacteristic, int, error) {
	var none bluetooth.DeviceCharacteristic

	log.Println("Discovering services...")
	services, err := dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return none, 0, fmt.Errorf("could not discover services: %w", err)
	}
	if len(services) == 0 {
		return none, 0, fmt.Errorf("%w: service %s not found", goremote.ErrNoChannel, svcUUID)
	}

	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		return none, 0, fmt.Errorf("could not discover characteristics: %w", err)
	}
	uuids := make([]bluetooth.UUID, len(chars))
	for i, c := range chars {
		uuids[i] = c.UUID()
	}

	channel := t.channel
	if channel == 0 {
		var ok bool
		channel, ok = comms.ChannelOf(uuids, charUUID)
		if !ok {
			return none, 0, fmt.Errorf("%w: characteristic %s not found", goremote.ErrNoChannel, charUUID)
		}
	}
	if channel < 1 || channel > len(chars) {
		return none, 0, fmt.Errorf("%w: service has %d characteristics, channel %d requested", goremote.ErrNoChannel, len(chars), channel)
	}
	return chars[channel-1], channel, nil
}

// Connect subscribes to notifications on the characteristic picked by Resolve.
func (t *Transport) Connect(ctx context.Context, channel int) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, goremote.ErrClosed
	}
	if !t.gatt {
		return nil, goremote.ErrNotConnected
	}

	t.rx = make(chan []byte, 20)
	if err := t.char.EnableNotifications(t.handleNotification); err != nil {
		return nil, fmt.Errorf("failed to enable notifications: %w", err)
	}
	t.connected = true
	return t.rx, nil
}

func (t *Transport) handleNotification(buf []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.rx <- append([]byte(nil), buf...):
	default:
		log.Printf("dropping %d received bytes, reader is behind", len(buf))
	}
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, goremote.ErrClosed
	}
	if !t.connected {
		return 0, goremote.ErrNotConnected
	}
	return t.char.WriteWithoutResponse(p)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.rx != nil {
		close(t.rx)
	}
	if t.gatt {
		t.connected = false
		return t.btDevice.Disconnect()
	}
	return nil
}
