//go:build linux

package rfcomm

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/mlsorensen/goremote/pkg/transports/rfcomm/sdp"
)

// dialSDP opens an L2CAP packet socket to the SDP server of addr.
func dialSDP(ctx context.Context, addr [6]byte) (*os.File, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, fmt.Errorf("l2cap socket: %w", err)
	}
	// SockaddrL2 takes the address most significant byte first.
	if err := unix.Connect(fd, &unix.SockaddrL2{PSM: sdp.PSM, Addr: addr}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("l2cap connect: %w", err)
	}
	return newFile(fd, "sdp")
}

// dialRFCOMM opens a stream socket on channel of addr. The connect itself
// cannot be interrupted once issued.
func dialRFCOMM(ctx context.Context, addr [6]byte, channel uint8) (*os.File, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}
	// SockaddrRFCOMM takes the address little-endian.
	var le [6]byte
	for i := range addr {
		le[i] = addr[len(addr)-1-i]
	}
	if err := unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: le, Channel: channel}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm connect: %w", err)
	}
	return newFile(fd, "rfcomm")
}

// newFile wraps a connected socket in a pollable *os.File so that Close
// unblocks a pending Read.
func newFile(fd int, name string) (*os.File, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	return os.NewFile(uintptr(fd), name), nil
}
