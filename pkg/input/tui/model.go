package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mlsorensen/goremote"
)

var (
	colorOK    = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorBusy  = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	colorError = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorMuted = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}

	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleCommand = lipgloss.NewStyle().Bold(true)
)

type model struct {
	keys    chan<- goremote.Key
	target  string
	state   goremote.State
	lastKey string
	lastCmd string
}

func newModel(target string, keys chan<- goremote.Key) model {
	return model{keys: keys, target: target}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		k, ok := keyFromMsg(msg)
		if !ok {
			return m, nil
		}
		// the session stops reading keys once it shuts down
		select {
		case m.keys <- k:
		default:
		}
	case stateMsg:
		m.state = goremote.State(msg)
	case commandMsg:
		m.lastKey, m.lastCmd = msg.key, msg.cmd
	case logLineMsg:
		return m, tea.Println(string(msg))
	}
	return m, nil
}

func stateStyle(st goremote.State) lipgloss.Style {
	switch st {
	case goremote.StateStreaming:
		return lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	case goremote.StateAborted:
		return lipgloss.NewStyle().Foreground(colorError).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(colorBusy)
	}
}

func (m model) View() string {
	line := stateStyle(m.state).Render("● "+m.state.String()) +
		styleMuted.Render("  target ") + m.target
	if m.lastCmd != "" {
		line += styleMuted.Render("  last ") + fmt.Sprintf("%s → %s", m.lastKey, styleCommand.Render(fmt.Sprintf("%q", m.lastCmd)))
	}
	return line + styleMuted.Render("  (ctrl+c to stop)") + "\n"
}
