package goremote_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/goremote"
	"github.com/mlsorensen/goremote/pkg/transports/mock"
)

const target = "20:16:06:30:69:09"

var (
	keyUp     = goremote.Key{Name: "up"}
	keyReturn = goremote.Key{Name: "return"}
	keyX      = goremote.Key{Name: "x"}
	ctrlC     = goremote.Key{Name: "c", Ctrl: true}
)

// syncBuffer is a bytes.Buffer safe for the logger and the test to share.
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

type chanDiscoverer struct {
	ch chan goremote.Device
}

func (d chanDiscoverer) Discover(ctx context.Context) (<-chan goremote.Device, error) {
	return d.ch, nil
}

type harness struct {
	t         *testing.T
	transport *mock.Transport
	devices   chan goremote.Device
	keys      chan goremote.Key
	session   *goremote.Session
	logs      *syncBuffer
	errc      chan error
	cancel    context.CancelFunc
	created   atomic.Int32

	mu     sync.Mutex
	states []goremote.State
}

func newHarness(t *testing.T, configure func(*mock.Transport)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		transport: mock.NewTransport(target, 3, false),
		devices:   make(chan goremote.Device, 8),
		keys:      make(chan goremote.Key, 16),
		logs:      &syncBuffer{},
		errc:      make(chan error, 1),
	}
	if configure != nil {
		configure(h.transport)
	}

	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	session, err := goremote.NewSession(goremote.SessionConfig{
		Target:     "20-16-06-30-69-09",
		Discoverer: chanDiscoverer{ch: h.devices},
		NewTransport: func(d *goremote.Device) (goremote.Transport, error) {
			h.created.Add(1)
			return h.transport, nil
		},
		Keys:   h.keys,
		Logger: logger,
		OnStateChange: func(s goremote.State) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	h.session = session
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.t.Cleanup(cancel)
	go func() { h.errc <- h.session.Run(ctx) }()
}

func (h *harness) waitState(want goremote.State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.session.State() == want },
		time.Second, 5*time.Millisecond, "state never became %s (is %s)", want, h.session.State())
}

// connect starts the session and brings it to streaming.
func (h *harness) connect() {
	h.t.Helper()
	h.start()
	h.devices <- goremote.Device{Address: target, Name: "HC-05"}
	h.waitState(goremote.StateStreaming)
}

func (h *harness) press(keys ...goremote.Key) {
	for _, k := range keys {
		h.keys <- k
	}
}

func (h *harness) waitWrites(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.transport.Writes()) >= n },
		time.Second, 5*time.Millisecond, "expected %d writes, have %v", n, h.transport.Writes())
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("session did not finish")
		return nil
	}
}

func (h *harness) recordedStates() []goremote.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]goremote.State(nil), h.states...)
}

func TestSessionMappedKeysWriteOnce(t *testing.T) {
	table := goremote.CommandTable()
	for name, cmd := range table {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.connect()

			h.press(goremote.Key{Name: name})
			h.waitWrites(1)
			h.press(ctrlC)
			require.NoError(t, h.wait())

			assert.Equal(t, []string{cmd, goremote.ShutdownCommand}, h.transport.Writes())
		})
	}
}

func TestSessionScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.press(keyUp)
	h.waitWrites(1)
	h.press(keyReturn)
	h.waitWrites(2)
	h.press(keyX)
	h.press(ctrlC, keyUp, keyReturn)

	require.NoError(t, h.wait())
	assert.Equal(t, []string{"w", "f", "s"}, h.transport.Writes())
	assert.True(t, h.transport.Closed())
	assert.Equal(t, goremote.StateClosed, h.session.State())
	assert.Contains(t, h.logs.String(), "Done!")
}

func TestSessionUnmappedKeysAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	for _, name := range []string{"x", "c", "tab", "esc", "a", "1"} {
		h.press(goremote.Key{Name: name})
	}
	h.press(keyUp)
	h.waitWrites(1)

	assert.Equal(t, []string{"w"}, h.transport.Writes())
	h.cancel()
	assert.ErrorIs(t, h.wait(), context.Canceled)
}

func TestSessionInterruptStopsInput(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.press(ctrlC, keyUp, goremote.Key{Name: "space"}, ctrlC)
	require.NoError(t, h.wait())

	assert.Equal(t, []string{"s"}, h.transport.Writes())
	_, _, closes := h.transport.Calls()
	assert.Equal(t, 1, closes)
}

func TestSessionStateSequence(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	h.press(ctrlC)
	require.NoError(t, h.wait())

	assert.Equal(t, []goremote.State{
		goremote.StateScanning,
		goremote.StateChannelFound,
		goremote.StateConnected,
		goremote.StateStreaming,
		goremote.StateShuttingDown,
		goremote.StateClosed,
	}, h.recordedStates())
	assert.Equal(t, 3, h.session.Device().Channel)
}

func TestSessionFiltersOtherDevices(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.devices <- goremote.Device{Address: "AA:BB:CC:DD:EE:FF", Name: "speaker"}
	h.devices <- goremote.Device{Address: "20:16:06:30:69:0A", Name: "almost"}
	require.Eventually(t, func() bool { return len(h.devices) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(0), h.created.Load())
	resolve, connect, _ := h.transport.Calls()
	assert.Zero(t, resolve)
	assert.Zero(t, connect)
	assert.Equal(t, goremote.StateScanning, h.session.State())

	h.devices <- goremote.Device{Address: "20-16-06-30-69-09", Name: "HC-05"}
	h.waitState(goremote.StateStreaming)
	assert.Equal(t, int32(1), h.created.Load())

	h.press(ctrlC)
	require.NoError(t, h.wait())
	assert.Contains(t, h.logs.String(), "speaker")
}

func TestSessionResolveFailureAborts(t *testing.T) {
	resolveErr := errors.New("sdp: no serial port service")
	h := newHarness(t, func(m *mock.Transport) { m.ResolveErr = resolveErr })
	h.start()
	h.devices <- goremote.Device{Address: target}
	h.waitState(goremote.StateAborted)

	_, connect, _ := h.transport.Calls()
	assert.Zero(t, connect)
	assert.Contains(t, h.logs.String(), "found nothing")

	h.press(keyUp, ctrlC)
	err := h.wait()
	assert.ErrorIs(t, err, resolveErr)
	assert.Empty(t, h.transport.Writes())
}

func TestSessionDiscoveryEndedAborts(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.devices <- goremote.Device{Address: "AA:BB:CC:DD:EE:FF", Name: "speaker"}
	close(h.devices)
	h.waitState(goremote.StateAborted)
	assert.Contains(t, h.logs.String(), "discovery ended")

	h.press(ctrlC)
	err := h.wait()
	assert.ErrorIs(t, err, goremote.ErrDiscoveryEnded)
	assert.Zero(t, h.created.Load())
	assert.Equal(t, goremote.StateClosed, h.session.State())
}

func TestSessionConnectFailureAborts(t *testing.T) {
	connectErr := errors.New("host is down")
	h := newHarness(t, func(m *mock.Transport) { m.ConnectErr = connectErr })
	h.start()
	h.devices <- goremote.Device{Address: target}
	h.waitState(goremote.StateAborted)
	assert.Contains(t, h.logs.String(), "cannot connect")

	h.cancel()
	assert.ErrorIs(t, h.wait(), connectErr)
	assert.True(t, h.transport.Closed())
}

func TestSessionWriteFailureKeepsStreaming(t *testing.T) {
	h := newHarness(t, func(m *mock.Transport) { m.WriteErr = errors.New("broken pipe") })
	h.connect()

	h.press(keyUp, keyReturn)
	require.Eventually(t, func() bool {
		return bytes.Count([]byte(h.logs.String()), []byte("write failed")) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, goremote.StateStreaming, h.session.State())

	h.press(ctrlC)
	require.NoError(t, h.wait())
	assert.True(t, h.transport.Closed())
}

func TestSessionLogsReceivedData(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.transport.Inject([]byte("battery 87%"))
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(h.logs.String()), []byte("received: battery 87%"))
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, goremote.StateStreaming, h.session.State())
	assert.Empty(t, h.transport.Writes())

	h.press(ctrlC)
	require.NoError(t, h.wait())
}

func TestSessionDropsKeysBeforeConnection(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.press(keyUp, keyReturn)
	require.Eventually(t, func() bool { return len(h.keys) == 0 }, time.Second, 5*time.Millisecond)

	h.devices <- goremote.Device{Address: target}
	h.waitState(goremote.StateStreaming)
	h.press(ctrlC)
	require.NoError(t, h.wait())

	assert.Equal(t, []string{"s"}, h.transport.Writes())
}

func TestSessionInterruptBeforeConnection(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.press(ctrlC)

	require.NoError(t, h.wait())
	assert.Equal(t, goremote.StateClosed, h.session.State())
	assert.Zero(t, h.created.Load())
	assert.Empty(t, h.transport.Writes())
}

func TestNewSessionValidation(t *testing.T) {
	newTransport := func(*goremote.Device) (goremote.Transport, error) { return nil, nil }
	disc := chanDiscoverer{}

	_, err := goremote.NewSession(goremote.SessionConfig{Discoverer: disc, NewTransport: newTransport})
	assert.Error(t, err)
	_, err = goremote.NewSession(goremote.SessionConfig{Target: target, NewTransport: newTransport})
	assert.Error(t, err)
	_, err = goremote.NewSession(goremote.SessionConfig{Target: target, Discoverer: disc})
	assert.Error(t, err)

	s, err := goremote.NewSession(goremote.SessionConfig{Target: target, Discoverer: disc, NewTransport: newTransport})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, goremote.StateIdle, s.State())
}
