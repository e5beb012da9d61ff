//go:build !linux

package rfcomm

import (
	"context"
	"io"

	"github.com/mlsorensen/goremote"
)

func dialSDP(ctx context.Context, addr [6]byte) (io.ReadWriteCloser, error) {
	return nil, goremote.ErrNotSupported
}

func dialRFCOMM(ctx context.Context, addr [6]byte, channel uint8) (io.ReadWriteCloser, error) {
	return nil, goremote.ErrNotSupported
}
