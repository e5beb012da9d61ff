// Package window captures key presses in a small fyne window, for hosts where
// the relay cannot take over a terminal.
package window

import (
	"fmt"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"github.com/mlsorensen/goremote"
)

const keyBufSize = 64

var interruptKey = goremote.Key{Name: "c", Ctrl: true}

type Window struct {
	keys       chan goremote.Key
	win        fyne.Window
	stateLabel *widget.Label
	lastLabel  *widget.Label
}

// New creates the window on app. Keys typed while it has focus are delivered
// on Keys; ctrl+c and closing the window both deliver the interrupt.
func New(app fyne.App, target string) *Window {
	w := &Window{
		keys:       make(chan goremote.Key, keyBufSize),
		win:        app.NewWindow("goremote"),
		stateLabel: widget.NewLabel(goremote.StateIdle.String()),
		lastLabel:  widget.NewLabel(""),
	}

	w.win.SetContent(container.NewVBox(
		widget.NewLabel("Target: "+target),
		w.stateLabel,
		w.lastLabel,
		widget.NewLabel("Arrows, space, return and q w z p o i u e r send commands. Ctrl+C stops."),
	))

	c := w.win.Canvas()
	c.SetOnTypedKey(func(ev *fyne.KeyEvent) {
		if k, ok := keyFromName(ev.Name); ok {
			w.send(k)
		}
	})
	interrupt := func(fyne.Shortcut) { w.send(interruptKey) }
	c.AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyC, Modifier: fyne.KeyModifierControl}, interrupt)
	// the desktop driver reports ctrl+c as a copy shortcut
	c.AddShortcut(&fyne.ShortcutCopy{}, interrupt)
	w.win.SetCloseIntercept(func() {
		w.send(interruptKey)
		w.win.Close()
	})
	return w
}

func (w *Window) send(k goremote.Key) {
	select {
	case w.keys <- k:
	default:
	}
}

func (w *Window) Keys() <-chan goremote.Key { return w.keys }

// Window exposes the fyne window, for ShowAndRun.
func (w *Window) Window() fyne.Window { return w.win }

func (w *Window) OnStateChange(st goremote.State) {
	fyne.Do(func() {
		w.stateLabel.SetText(st.String())
	})
}

func (w *Window) OnCommand(k goremote.Key, cmd string) {
	fyne.Do(func() {
		w.lastLabel.SetText(fmt.Sprintf("%s → %q", k, cmd))
	})
}

// keyFromName names a fyne key the way the command table does.
func keyFromName(name fyne.KeyName) (goremote.Key, bool) {
	switch name {
	case fyne.KeyUp:
		return goremote.Key{Name: "up"}, true
	case fyne.KeyDown:
		return goremote.Key{Name: "down"}, true
	case fyne.KeyLeft:
		return goremote.Key{Name: "left"}, true
	case fyne.KeyRight:
		return goremote.Key{Name: "right"}, true
	case fyne.KeySpace:
		return goremote.Key{Name: "space"}, true
	case fyne.KeyReturn, fyne.KeyEnter:
		return goremote.Key{Name: "return"}, true
	}
	if len(name) == 1 {
		return goremote.Key{Name: strings.ToLower(string(name))}, true
	}
	return goremote.Key{}, false
}
