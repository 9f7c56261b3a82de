// Package tui provides the interactive plotter console and the serial port
// picker for blotctl. Both are bubbletea models styled with lipgloss.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/blotkit/goblot/comms"
	"github.com/blotkit/goblot/plotter"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("30")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Border(lipgloss.NormalBorder()).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Border(lipgloss.NormalBorder()).
			Padding(0, 1)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Underline(true)

	menuStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	metricsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true).
			PaddingLeft(1)
)

// menu lists the controls; the first letter of each is its key.
var menu = []string{"Go", "Forward", "Back", "Left", "Right", "Up", "Pen down", "Change step", "Quit"}

const statsInterval = 200 * time.Millisecond

type posStatus int

const (
	posInitializing posStatus = iota
	posMoving
	posStopped
)

type editMode int

const (
	editNone editMode = iota
	editStep
	editCoordinates
)

// Stats is the comms state shown in the status bar.
type Stats struct {
	Queued   int
	Capacity int
	Metrics  comms.MetricsSnapshot
}

// DriverStats reads Stats from a running driver.
func DriverStats(d *comms.Driver) func() Stats {
	return func() Stats {
		return Stats{
			Queued:   d.Queue().Len(),
			Capacity: d.Queue().Cap(),
			Metrics:  d.Metrics().Snapshot(),
		}
	}
}

type (
	initDoneMsg  struct{ err error }
	moveDoneMsg  struct{ err error }
	penDoneMsg   struct{ err error }
	statsMsg     Stats
	driverErrMsg struct{ err error }
)

// Interactive is the bubbletea model of interactive mode.
type Interactive struct {
	ctx     context.Context
	plotter *plotter.Plotter
	stats   func() Stats
	done    <-chan struct{}
	doneErr func() error

	status      posStatus
	destination string
	pen         plotter.PenState
	pos         plotter.Position
	edit        editMode
	input       string
	current     Stats
	err         error
	fatal       error
}

// InteractiveOption configures an Interactive model.
type InteractiveOption func(*Interactive)

// WithStats shows queue and driver metrics in the status bar.
func WithStats(fn func() Stats) InteractiveOption {
	return func(m *Interactive) { m.stats = fn }
}

// WithDriverDone quits the console with err() once done is closed.
func WithDriverDone(done <-chan struct{}, err func() error) InteractiveOption {
	return func(m *Interactive) {
		m.done = done
		m.doneErr = err
	}
}

// NewInteractive returns the interactive console for p. Commands are sent
// with ctx.
func NewInteractive(ctx context.Context, p *plotter.Plotter, opts ...InteractiveOption) Interactive {
	m := Interactive{
		ctx:     ctx,
		plotter: p,
		status:  posInitializing,
	}
	for _, opt := range opts {
		opt(&m)
	}

	return m
}

// Err returns the driver failure that ended the session, if any.
func (m Interactive) Err() error { return m.fatal }

// Init lifts the pen, turns the motors on and homes to (0, 0).
func (m Interactive) Init() tea.Cmd {
	cmds := []tea.Cmd{m.initialize()}
	if m.stats != nil {
		cmds = append(cmds, m.pollStats())
	}
	if m.done != nil {
		cmds = append(cmds, m.waitDriver())
	}

	return tea.Batch(cmds...)
}

func (m Interactive) initialize() tea.Cmd {
	return func() tea.Msg {
		return initDoneMsg{err: m.plotter.Initialize(m.ctx)}
	}
}

func (m Interactive) pollStats() tea.Cmd {
	return tea.Tick(statsInterval, func(time.Time) tea.Msg {
		return statsMsg(m.stats())
	})
}

func (m Interactive) waitDriver() tea.Cmd {
	return func() tea.Msg {
		<-m.done
		return driverErrMsg{err: m.doneErr()}
	}
}

// Update handles key presses and command completions.
func (m Interactive) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.edit != editNone {
			return m.updateEdit(msg)
		}

		return m.updateControls(msg)

	case initDoneMsg:
		m.err = msg.err
		m.status = posStopped
		m.pos = m.plotter.Position()
		m.pen = m.plotter.Pen()
		return m, nil

	case moveDoneMsg:
		m.err = msg.err
		m.status = posStopped
		m.pos = m.plotter.Position()
		return m, nil

	case penDoneMsg:
		m.err = msg.err
		m.pen = m.plotter.Pen()
		return m, nil

	case statsMsg:
		m.current = Stats(msg)
		return m, m.pollStats()

	case driverErrMsg:
		m.fatal = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m Interactive) updateControls(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "g":
		m.edit = editCoordinates
	case "c":
		m.edit = editStep
	case "f", "w":
		return m.move(plotter.Forward)
	case "b", "s":
		return m.move(plotter.Back)
	case "a", "l":
		return m.move(plotter.Left)
	case "r", "d":
		return m.move(plotter.Right)
	case "u", "up":
		m.pen = plotter.PenUp
		return m, m.setPen(plotter.PenUp)
	case "p", "down":
		m.pen = plotter.PenDown
		return m, m.setPen(plotter.PenDown)
	}

	return m, nil
}

func (m Interactive) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.edit, m.input = editNone, ""
		return m, nil
	case tea.KeyBackspace, tea.KeyDelete:
		if m.input != "" {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	case tea.KeyEnter:
		return m.submitEdit()
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
				m.input += string(r)
			}
		}
	}

	return m, nil
}

// submitEdit applies the typed value. Invalid input keeps the editor open.
func (m Interactive) submitEdit() (tea.Model, tea.Cmd) {
	switch m.edit {
	case editCoordinates:
		xs, ys, ok := strings.Cut(m.input, ",")
		if !ok {
			return m, nil
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 32)
		y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 32)
		if errX != nil || errY != nil {
			return m, nil
		}
		m.edit, m.input = editNone, ""
		target := m.plotter.Clamp(plotter.Position{X: float32(x), Y: float32(y)})
		m.status = posMoving
		m.destination = "to " + target.String()

		return m, m.goTo(target)

	case editStep:
		step, err := strconv.ParseFloat(strings.TrimSpace(m.input), 32)
		if err != nil || m.plotter.SetStep(float32(step)) != nil {
			return m, nil
		}
		m.edit, m.input = editNone, ""
	}

	return m, nil
}

func (m Interactive) move(dir plotter.Direction) (tea.Model, tea.Cmd) {
	m.status = posMoving
	m.destination = dir.String()

	return m, m.goTo(m.plotter.Target(dir))
}

func (m Interactive) goTo(target plotter.Position) tea.Cmd {
	return func() tea.Msg {
		_, err := m.plotter.GoTo(m.ctx, target.X, target.Y)
		return moveDoneMsg{err: err}
	}
}

func (m Interactive) setPen(state plotter.PenState) tea.Cmd {
	return func() tea.Msg {
		if state == plotter.PenDown {
			return penDoneMsg{err: m.plotter.PenDown(m.ctx)}
		}

		return penDoneMsg{err: m.plotter.PenUp(m.ctx)}
	}
}

// View renders the console.
func (m Interactive) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("blotctl interactive"))
	sb.WriteString("\n")

	status := lipgloss.JoinHorizontal(lipgloss.Top,
		statusStyle.Render(m.positionText()+"\n"+"Pen is "+m.pen.String()),
		inputStyle.Render(m.editText()),
	)
	sb.WriteString(status)
	sb.WriteString("\n")

	items := make([]string, 0, len(menu))
	for _, item := range menu {
		items = append(items, keyStyle.Render(item[:1])+menuStyle.Render(item[1:]))
	}
	sb.WriteString(strings.Join(items, menuStyle.Render(" | ")))
	sb.WriteString("\n")

	if m.stats != nil {
		mt := m.current.Metrics
		sb.WriteString(metricsStyle.Render(fmt.Sprintf(
			"step %g | queue %d/%d | in flight %d | sent %d | acks %d (unmatched %d) | malformed %d",
			m.plotter.Step(), m.current.Queued, m.current.Capacity, mt.Inflight,
			mt.FramesSent, mt.AcksMatched, mt.AcksUnmatched, mt.MalformedFrames)))
		sb.WriteString("\n")
	}
	if m.err != nil {
		sb.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m Interactive) positionText() string {
	switch m.status {
	case posInitializing:
		return "Initializing plotter"
	case posMoving:
		return "Plotter is moving " + m.destination
	default:
		return "Plotter is stopped at " + m.pos.String()
	}
}

func (m Interactive) editText() string {
	switch m.edit {
	case editCoordinates:
		return "Coordinates (x,y): " + m.input
	case editStep:
		return "Step size: " + m.input
	default:
		return " "
	}
}
