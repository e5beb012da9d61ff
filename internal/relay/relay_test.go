package relay

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/goremote"
	"github.com/mlsorensen/goremote/internal/config"
	"github.com/mlsorensen/goremote/internal/logger"
	"github.com/mlsorensen/goremote/pkg/discovery/bluez"
	_ "github.com/mlsorensen/goremote/pkg/transports/mock"
)

type fakeSource struct {
	keys chan goremote.Key

	mu     sync.Mutex
	states []goremote.State
	cmds   []string
}

func (f *fakeSource) Keys() <-chan goremote.Key { return f.keys }

func (f *fakeSource) OnStateChange(st goremote.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, st)
}

func (f *fakeSource) OnCommand(_ goremote.Key, cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
}

func (f *fakeSource) streaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.states {
		if st == goremote.StateStreaming {
			return true
		}
	}
	return false
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewDiscoverer(t *testing.T) {
	cfg := config.Defaults()
	assert.IsType(t, bluez.Discoverer{}, NewDiscoverer(cfg))

	cfg.Discovery = "ble"
	assert.IsType(t, goremote.BLEScanner{}, NewDiscoverer(cfg))

	cfg.Discovery = "static"
	cfg.Target = "20-16-06-30-69-09"
	d, ok := NewDiscoverer(cfg).(goremote.StaticDiscoverer)
	require.True(t, ok)
	assert.Equal(t, []goremote.Device{{Address: "20:16:06:30:69:09"}}, d.Devices)
}

func TestSessionAgainstMock(t *testing.T) {
	cfg := config.Defaults()
	cfg.Discovery = "static"
	cfg.Transport = "mock"
	cfg.Mock.Echo = true

	var out syncBuffer
	log, closer, err := logger.New(cfg.Logger, &out)
	require.NoError(t, err)
	defer closer()

	src := &fakeSource{keys: make(chan goremote.Key, 8)}
	sess, err := NewSession(cfg, src, log)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(ctx) }()

	require.Eventually(t, src.streaming, 2*time.Second, 5*time.Millisecond)
	src.keys <- goremote.Key{Name: "up"}
	src.keys <- goremote.Key{Name: "c", Ctrl: true}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
	}

	assert.Equal(t, []string{"w"}, src.cmds)
	logs := out.String()
	assert.Contains(t, logs, "wrote 1 bytes over bluetooth")
	assert.Contains(t, logs, "Done!")
	assert.Equal(t, goremote.StateClosed, sess.State())
}
