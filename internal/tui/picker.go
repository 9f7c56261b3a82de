package tui

import (
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/blotkit/goblot/serialport"
)

// ErrNoSelection is returned when the picker is dismissed without a choice.
var ErrNoSelection = errors.New("could not determine port to use")

var (
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	candidateText = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

// Picker is a bubbletea model that chooses one serial port.
type Picker struct {
	ports    []serialport.PortInfo
	cursor   int
	selected string
	done     bool
}

// NewPicker returns a picker over ports.
func NewPicker(ports []serialport.PortInfo) Picker {
	return Picker{ports: ports}
}

// Selected returns the chosen port name, or "" if none was chosen.
func (m Picker) Selected() string { return m.selected }

func (m Picker) Init() tea.Cmd { return nil }

func (m Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.ports)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.ports) > 0 {
			m.selected = m.ports[m.cursor].Name
		}
		m.done = true
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m Picker) View() string {
	if m.done {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Choose a serial port\n\n")
	for i, p := range m.ports {
		if i == m.cursor {
			sb.WriteString(cursorStyle.Render("> " + p.Label()))
		} else {
			sb.WriteString(candidateText.Render("  " + p.Label()))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(hintStyle.Render("↑/↓ move • enter select • q cancel"))
	sb.WriteString("\n")

	return sb.String()
}

// PickPort runs the picker on the terminal and returns the chosen port.
func PickPort(ports []serialport.PortInfo, opts ...tea.ProgramOption) (string, error) {
	final, err := tea.NewProgram(NewPicker(ports), opts...).Run()
	if err != nil {
		return "", err
	}

	picker, _ := final.(Picker)
	if picker.Selected() == "" {
		return "", ErrNoSelection
	}

	return picker.Selected(), nil
}
