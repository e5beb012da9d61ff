package goremote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// State is a stage of the relay pipeline.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateChannelFound
	StateConnected
	StateStreaming
	StateShuttingDown
	StateClosed
	// StateAborted is entered when discovery ends without the target or when
	// channel resolution or connection fails.
	// The session stays there until it is interrupted or cancelled.
	StateAborted
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateScanning:     "scanning",
	StateChannelFound: "channel found",
	StateConnected:    "connected",
	StateStreaming:    "streaming",
	StateShuttingDown: "shutting down",
	StateClosed:       "closed",
	StateAborted:      "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// events posted back to the session loop by helper goroutines
type (
	channelResolved struct{ channel int }
	resolveFailed   struct{ err error }
	connected       struct{ rx <-chan []byte }
	connectFailed   struct{ err error }
	writeDone       struct {
		out outgoing
		n   int
		err error
	}
)

type outgoing struct {
	cmd      string
	shutdown bool
}

// SessionConfig wires a Session to its collaborators.
type SessionConfig struct {
	// Target is the address of the only device the session connects to.
	Target     string
	Discoverer Discoverer
	// NewTransport creates the transport for the target once it is found.
	NewTransport func(*Device) (Transport, error)
	// Keys delivers key presses. It is read for the whole session so that
	// presses made before the connection exists are dropped, not replayed.
	Keys   <-chan Key
	Logger *slog.Logger

	// OnStateChange, when set, is called from the session loop on every transition.
	OnStateChange func(State)
	// OnCommand, when set, is called from the session loop for every queued command.
	OnCommand func(Key, string)
}

// Session owns the single connection of the relay and drives it through
// discovery, channel resolution, connection, streaming and shutdown.
// All of its state is touched only from the goroutine running Run.
type Session struct {
	cfg    SessionConfig
	id     string
	target string
	log    *slog.Logger
	state  atomic.Int32

	device    Device
	transport Transport
	err       error

	events  chan any
	done    chan struct{}
	devices <-chan Device
	keys    <-chan Key
	rx      <-chan []byte

	stopScan context.CancelFunc
	outbox   chan outgoing
	pending  []outgoing
}

// NewSession validates cfg and returns an idle session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Target == "" {
		return nil, errors.New("session: target address is required")
	}
	if cfg.Discoverer == nil {
		return nil, errors.New("session: discoverer is required")
	}
	if cfg.NewTransport == nil {
		return nil, errors.New("session: transport factory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := ulid.Make().String()
	return &Session{
		cfg:    cfg,
		id:     id,
		target: NormalizeAddress(cfg.Target),
		log:    logger.With("session", id),
		events: make(chan any),
		done:   make(chan struct{}),
		keys:   cfg.Keys,
	}, nil
}

// ID identifies the session in log lines.
func (s *Session) ID() string { return s.id }

// State returns the current pipeline stage. It is safe to call from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

// Device returns the target as found by discovery, with its resolved channel.
// Only meaningful once Run has returned.
func (s *Session) Device() Device { return s.device }

func (s *Session) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.log.Debug("state changed", "state", st.String())
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}

// Run drives the session until it is closed by ctrl+c or ctx is cancelled.
// It returns nil after a normal shutdown, the stage error after an abort, or
// ctx.Err() on cancellation.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.done)

	scanCtx, stopScan := context.WithCancel(ctx)
	s.stopScan = stopScan
	defer stopScan()

	s.setState(StateScanning)
	s.log.Info("scanning for device", "target", s.target)
	devices, err := s.cfg.Discoverer.Discover(scanCtx)
	if err != nil {
		s.setState(StateAborted)
		return fmt.Errorf("start discovery: %w", err)
	}
	s.devices = devices

	for s.State() != StateClosed {
		var outbox chan outgoing
		var next outgoing
		if len(s.pending) > 0 && s.outbox != nil {
			outbox = s.outbox
			next = s.pending[0]
		}

		select {
		case <-ctx.Done():
			s.finish("session cancelled")
			if s.err != nil {
				return s.err
			}
			return ctx.Err()
		case d, ok := <-s.devices:
			if !ok {
				s.devices = nil
				if s.State() == StateScanning {
					s.abort("discovery ended", fmt.Errorf("%w before %s was seen", ErrDiscoveryEnded, s.target))
				}
				continue
			}
			s.handleDevice(ctx, d)
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		case k, ok := <-s.keys:
			if !ok {
				s.log.Debug("key source closed")
				s.keys = nil
				continue
			}
			s.handleKey(k)
		case data, ok := <-s.rx:
			if !ok {
				s.log.Warn("device closed the connection", "address", s.device.Address)
				s.rx = nil
				continue
			}
			s.log.Info("received: " + string(data))
		case outbox <- next:
			s.pending = s.pending[1:]
		}
	}
	return s.err
}

// post hands an event to the loop. It reports false once the session is over.
func (s *Session) post(ev any) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) handleDevice(ctx context.Context, d Device) {
	s.log.Info("found device", "address", d.Address, "name", d.Name)
	if s.State() != StateScanning || NormalizeAddress(d.Address) != s.target {
		return
	}

	// target found: no further devices are considered
	s.stopScan()
	s.devices = nil
	s.device = d

	t, err := s.cfg.NewTransport(&s.device)
	if err != nil {
		s.abort("cannot create transport", fmt.Errorf("create transport for %s: %w", d.Address, err))
		return
	}
	s.transport = t

	go func() {
		channel, err := t.Resolve(ctx)
		if err != nil {
			s.post(resolveFailed{err: err})
			return
		}
		s.post(channelResolved{channel: channel})
	}()
}

func (s *Session) handleEvent(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case channelResolved:
		if s.State() != StateScanning {
			return
		}
		s.device.Channel = e.channel
		s.setState(StateChannelFound)
		s.log.Info("trying channel", "address", s.device.Address, "channel", e.channel)

		t := s.transport
		go func() {
			rx, err := t.Connect(ctx, e.channel)
			if err != nil {
				s.post(connectFailed{err: err})
				return
			}
			s.post(connected{rx: rx})
		}()

	case resolveFailed:
		s.abort("found nothing", fmt.Errorf("resolve channel for %s: %w", s.device.Address, e.err))

	case connected:
		if s.State() != StateChannelFound {
			return
		}
		s.setState(StateConnected)
		s.log.Info("connected", "address", s.device.Address, "channel", s.device.Channel)
		s.rx = e.rx
		s.outbox = make(chan outgoing)
		go s.writer(s.transport, s.outbox)
		s.setState(StateStreaming)

	case connectFailed:
		s.abort("cannot connect", fmt.Errorf("connect to %s on channel %d: %w", s.device.Address, s.device.Channel, e.err))

	case writeDone:
		if e.err != nil {
			s.log.Error("write failed", "command", e.out.cmd, "error", e.err)
		} else {
			s.log.Info(fmt.Sprintf("wrote %d bytes over bluetooth", e.n), "command", e.out.cmd)
		}
		if e.out.shutdown {
			s.finish("Done!")
		}
	}
}

func (s *Session) handleKey(k Key) {
	if k.IsInterrupt() {
		s.interrupt()
		return
	}
	if s.State() != StateStreaming {
		s.log.Debug("dropping key, not streaming", "key", k.String(), "state", s.State().String())
		return
	}
	cmd, ok := CommandFor(k.Name)
	if !ok {
		return
	}
	s.pending = append(s.pending, outgoing{cmd: cmd})
	if s.cfg.OnCommand != nil {
		s.cfg.OnCommand(k, cmd)
	}
}

func (s *Session) interrupt() {
	switch s.State() {
	case StateStreaming:
		s.log.Info("interrupt received, sending shutdown command")
		s.setState(StateShuttingDown)
		s.keys = nil
		s.pending = append(s.pending, outgoing{cmd: ShutdownCommand, shutdown: true})
	case StateShuttingDown, StateClosed:
	default:
		s.finish("interrupted before a connection was established")
	}
}

// writer performs writes in the order they were queued.
func (s *Session) writer(t Transport, in <-chan outgoing) {
	for out := range in {
		n, err := t.Write([]byte(out.cmd))
		if !s.post(writeDone{out: out, n: n, err: err}) {
			return
		}
	}
}

func (s *Session) abort(msg string, err error) {
	s.log.Error(msg, "error", err)
	s.err = err
	s.setState(StateAborted)
}

// finish closes the connection and ends the session.
func (s *Session) finish(msg string) {
	s.keys = nil
	s.rx = nil
	s.pending = nil
	if s.outbox != nil {
		close(s.outbox)
		s.outbox = nil
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.log.Warn("close transport", "error", err)
		}
	}
	s.setState(StateClosed)
	s.log.Info(msg)
}
