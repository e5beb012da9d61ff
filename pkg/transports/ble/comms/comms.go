// Package comms holds the GATT identifiers of BLE serial bridges.
package comms

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

var (
	// SerialServiceUUID and SerialCharUUID are the HM-10 style transparent
	// UART service and its read/write/notify characteristic.
	SerialServiceUUID = bluetooth.New16BitUUID(0xFFE0)
	SerialCharUUID    = bluetooth.New16BitUUID(0xFFE1)
)

// ParseUUIDs returns the service and characteristic to use, falling back to
// the HM-10 identifiers for empty strings.
func ParseUUIDs(service, char string) (bluetooth.UUID, bluetooth.UUID, error) {
	svc, chr := SerialServiceUUID, SerialCharUUID
	var err error
	if service != "" {
		if svc, err = bluetooth.ParseUUID(service); err != nil {
			return svc, chr, fmt.Errorf("invalid service uuid %q: %w", service, err)
		}
	}
	if char != "" {
		if chr, err = bluetooth.ParseUUID(char); err != nil {
			return svc, chr, fmt.Errorf("invalid characteristic uuid %q: %w", char, err)
		}
	}
	return svc, chr, nil
}

// ChannelOf returns the 1-based position of want in chars.
func ChannelOf(chars []bluetooth.UUID, want bluetooth.UUID) (int, bool) {
	for i, c := range chars {
		if c == want {
			return i + 1, true
		}
	}
	return 0, false
}
