package goremote

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// BTAdapter is the adapter used for BLE scanning and connections.
var BTAdapter = bluetooth.DefaultAdapter

var (
	enableOnce sync.Once
	enableErr  error
)

// TryEnableAdapter enables BTAdapter once per process.
func TryEnableAdapter() error {
	enableOnce.Do(func() {
		log.Println("Enabling Bluetooth adapter...")
		enableErr = BTAdapter.Enable()
	})
	return enableErr
}

func deviceFromScan(result bluetooth.ScanResult) Device {
	addr := result.Address
	return Device{
		Name:       result.LocalName(),
		Address:    NormalizeAddress(addr.String()),
		RSSI:       int(result.RSSI),
		BLEAddress: &addr,
	}
}

func matchesPrefix(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// ScanStream returns a channel that streams devices as they are discovered
// and stops scanning when the context is canceled. With no prefixes every
// advertisement is reported, otherwise only names starting with one of them.
func ScanStream(ctx context.Context, namePrefixes ...string) (<-chan Device, error) {
	if err := TryEnableAdapter(); err != nil {
		return nil, err
	}

	deviceChan := make(chan Device)

	go func() {
		defer close(deviceChan)

		if len(namePrefixes) > 0 {
			log.Printf("Starting BLE scan for devices with prefixes: %v...", namePrefixes)
		} else {
			log.Println("Starting BLE scan...")
		}

		handler := func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !matchesPrefix(result.LocalName(), namePrefixes) {
				return
			}
			select {
			case deviceChan <- deviceFromScan(result):
			case <-ctx.Done():
			}
		}

		scanDone := make(chan struct{})
		go func() {
			defer close(scanDone)
			if err := BTAdapter.Scan(handler); err != nil {
				log.Printf("Error starting scan: %v", err)
			}
		}()

		// Wait for the context to be canceled or the scan to fail
		select {
		case <-ctx.Done():
		case <-scanDone:
			return
		}

		if err := BTAdapter.StopScan(); err != nil {
			log.Printf("Error stopping scan: %v", err)
		}
		<-scanDone
	}()

	return deviceChan, nil
}

// Scan finds bluetooth devices with given string prefixes in their name, blocks for duration
func Scan(duration time.Duration, namePrefixes ...string) ([]Device, error) {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	devices, err := ScanStream(ctx, namePrefixes...)
	if err != nil {
		return nil, err
	}

	found := make(map[string]Device)
	for device := range devices {
		if _, seen := found[device.Address]; !seen {
			log.Printf("    --> Found device: %s", device)
		}
		found[device.Address] = device
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	results := make([]Device, 0, len(found))
	for _, device := range found {
		results = append(results, device)
	}

	log.Printf("Scan processing finished. Found %d unique device(s).", len(results))
	return results, nil
}

// BLEScanner discovers devices by scanning BLE advertisements on BTAdapter.
type BLEScanner struct {
	NamePrefixes []string
}

func (s BLEScanner) Discover(ctx context.Context) (<-chan Device, error) {
	return ScanStream(ctx, s.NamePrefixes...)
}

// StaticDiscoverer reports a fixed list of devices once, then waits for ctx.
// It stands in for a real scan when the device is reached through a
// pre-bound tty or the mock transport.
type StaticDiscoverer struct {
	Devices []Device
}

func (s StaticDiscoverer) Discover(ctx context.Context) (<-chan Device, error) {
	out := make(chan Device)
	go func() {
		defer close(out)
		for _, d := range s.Devices {
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return out, nil
}
