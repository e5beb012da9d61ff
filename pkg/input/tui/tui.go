// Package tui captures key presses from the terminal with bubbletea and
// shows a one-line status of the session below the log output.
package tui

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"unicode"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/mlsorensen/goremote"
)

const keyBufSize = 64

// ErrNotTerminal is returned by Start when stdin cannot be put in raw mode.
var ErrNotTerminal = errors.New("stdin is not a terminal")

type (
	stateMsg   goremote.State
	commandMsg struct{ key, cmd string }
	logLineMsg string
)

// Source is a terminal key source. Create it with New, Start it before the
// session so that log lines have somewhere to go, and Stop it once the
// session returns.
type Source struct {
	keys    chan goremote.Key
	program *tea.Program
	running atomic.Bool
	done    chan struct{}
	runErr  error
	logs    *lineWriter
}

// New builds a Source showing target in its status line.
func New(target string, opts ...tea.ProgramOption) *Source {
	s := &Source{
		keys: make(chan goremote.Key, keyBufSize),
		done: make(chan struct{}),
	}
	s.program = tea.NewProgram(newModel(target, s.keys), opts...)
	s.logs = &lineWriter{send: s.send, fallback: os.Stderr}
	return s
}

// Keys delivers normalized key presses.
func (s *Source) Keys() <-chan goremote.Key { return s.keys }

// LogWriter prints complete lines above the status line while the program
// runs and to stderr otherwise.
func (s *Source) LogWriter() io.Writer { return s.logs }

// OnStateChange and OnCommand feed the status line. Both are safe to call
// from any goroutine.
func (s *Source) OnStateChange(st goremote.State) { s.send(stateMsg(st)) }

func (s *Source) OnCommand(k goremote.Key, cmd string) {
	s.send(commandMsg{key: k.String(), cmd: cmd})
}

func (s *Source) send(msg tea.Msg) bool {
	if !s.running.Load() {
		return false
	}
	s.program.Send(msg)
	return true
}

// Start takes over the terminal.
func (s *Source) Start() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return ErrNotTerminal
	}
	s.running.Store(true)
	go func() {
		defer close(s.done)
		_, err := s.program.Run()
		s.running.Store(false)
		s.runErr = err
	}()
	return nil
}

// Stop restores the terminal and returns the program's error, if any.
func (s *Source) Stop() error {
	if !s.running.Load() {
		select {
		case <-s.done:
			return s.runErr
		default:
			return nil
		}
	}
	s.program.Quit()
	<-s.done
	return s.runErr
}

// keyFromMsg names a bubbletea key the way the command table does.
func keyFromMsg(msg tea.KeyMsg) (goremote.Key, bool) {
	switch msg.Type {
	case tea.KeyUp:
		return goremote.Key{Name: "up"}, true
	case tea.KeyDown:
		return goremote.Key{Name: "down"}, true
	case tea.KeyLeft:
		return goremote.Key{Name: "left"}, true
	case tea.KeyRight:
		return goremote.Key{Name: "right"}, true
	case tea.KeySpace:
		return goremote.Key{Name: "space"}, true
	case tea.KeyEnter:
		return goremote.Key{Name: "return"}, true
	case tea.KeyCtrlC:
		return goremote.Key{Name: "c", Ctrl: true}, true
	case tea.KeyRunes:
		if len(msg.Runes) != 1 {
			return goremote.Key{}, false
		}
		r := msg.Runes[0]
		if r == ' ' {
			return goremote.Key{Name: "space"}, true
		}
		return goremote.Key{Name: string(unicode.ToLower(r)), Shift: unicode.IsUpper(r)}, true
	}
	// ctrl+i and ctrl+m share their codes with tab and enter
	if msg.Type >= tea.KeyCtrlA && msg.Type <= tea.KeyCtrlZ && msg.Type != tea.KeyTab {
		return goremote.Key{Name: string(rune('a' + msg.Type - tea.KeyCtrlA)), Ctrl: true}, true
	}
	return goremote.Key{}, false
}

// lineWriter turns writes into one message per complete line.
type lineWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	send     func(tea.Msg) bool
	fallback io.Writer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		if !w.send(logLineMsg(line[:len(line)-1])) {
			if _, err := io.WriteString(w.fallback, line); err != nil {
				return len(p), err
			}
		}
	}
	return len(p), nil
}
