package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
	"github.com/ESiegman/Thermo-PID/internal/loop"
)

const historyCapacity = 240

// RecordMsg carries one completed tick into the UI.
type RecordMsg dynamo.Record

// DoneMsg reports the end of the run.
type DoneMsg struct {
	Result *loop.Result
	Err    error
}

type feedClosedMsg struct{}

// Feed hands records from the loop goroutine to the UI. It never blocks the
// loop: when the UI falls behind, records are dropped from the display
// (they are still recorded to disk).
type Feed struct {
	ch chan dynamo.Record
}

func NewFeed(buffer int) *Feed {
	return &Feed{ch: make(chan dynamo.Record, buffer)}
}

func (f *Feed) OnTick(rec dynamo.Record) {
	select {
	case f.ch <- rec:
	default:
	}
}

// Close must be called by the loop goroutine once the run has ended.
func (f *Feed) Close() { close(f.ch) }

func (f *Feed) wait() tea.Msg {
	rec, ok := <-f.ch
	if !ok {
		return feedClosedMsg{}
	}
	return RecordMsg(rec)
}

// Dashboard is the bubbletea model of the live view.
type Dashboard struct {
	feed     *Feed
	stop     func()
	runID    string
	backend  string
	setpoint float64
	outMax   float64

	temps    []float64
	commands []float64
	last     dynamo.Record
	ticks    int
	retunes  int
	started  bool

	stopping bool
	done     bool
	result   *loop.Result
	err      error
	width    int
}

// NewDashboard builds the model; stop is called when the operator quits.
func NewDashboard(feed *Feed, stop func(), runID, backend string, setpoint, outMax float64) Dashboard {
	return Dashboard{
		feed:     feed,
		stop:     stop,
		runID:    runID,
		backend:  backend,
		setpoint: setpoint,
		outMax:   outMax,
		temps:    make([]float64, 0, historyCapacity),
		commands: make([]float64, 0, historyCapacity),
		width:    60,
	}
}

func (m Dashboard) Init() tea.Cmd {
	return m.feed.wait
}

func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.done {
				return m, tea.Quit
			}
			if !m.stopping {
				m.stopping = true
				m.stop()
			}
		}
	case tea.WindowSizeMsg:
		m.width = max(30, msg.Width-40)
	case RecordMsg:
		m.observe(dynamo.Record(msg))
		return m, m.feed.wait
	case feedClosedMsg:
		return m, nil
	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Dashboard) observe(rec dynamo.Record) {
	if m.started && rec.Gains != m.last.Gains {
		m.retunes++
	}
	m.started = true
	m.last = rec
	m.ticks++
	m.temps = appendBounded(m.temps, rec.Measurement)
	m.commands = appendBounded(m.commands, rec.Command)
}

func appendBounded(s []float64, v float64) []float64 {
	if len(s) == historyCapacity {
		copy(s, s[1:])
		s = s[:len(s)-1]
	}
	return append(s, v)
}

func (m Dashboard) View() string {
	var chart string
	if len(m.temps) > 1 {
		sp := make([]float64, len(m.temps))
		for i := range sp {
			sp[i] = m.setpoint
		}
		chart = asciigraph.PlotMany([][]float64{m.temps, sp},
			asciigraph.Height(12),
			asciigraph.Width(m.width),
			asciigraph.SeriesColors(asciigraph.Red, asciigraph.Green),
			asciigraph.Caption("temperature (°C) vs setpoint"))
	} else {
		chart = "waiting for first reading..."
	}

	left := graphStyle.Render(chart) + "\n" +
		labelStyle.Render("command") + Sparkline(m.commands, m.width)

	var s strings.Builder
	s.WriteString(titleStyle.Render("THERMO-PID") + "  " + m.status() + "\n\n")
	row := func(label, value string) {
		s.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("Run", m.runID)
	row("Backend", m.backend)
	row("Tick", fmt.Sprintf("%d", m.ticks))
	row("Elapsed", time.Duration(m.last.Elapsed*float64(time.Second)).Truncate(100*time.Millisecond).String())
	row("Setpoint", fmt.Sprintf("%.2f °C", m.setpoint))
	row("Temp", fmt.Sprintf("%.2f °C", m.last.Measurement))
	row("Error", fmt.Sprintf("%+.2f", m.last.Error))
	row("Command", fmt.Sprintf("%+.3f", m.last.Command))

	out := m.channelLabel() + " "
	if m.outMax > 0 {
		out += LevelBar(m.last.Magnitude/m.outMax, 14)
	}
	row("Output", out)
	row("Kp", fmt.Sprintf("%.4f", m.last.Gains.Kp))
	row("Ki", fmt.Sprintf("%.4f", m.last.Gains.Ki))
	row("Kd", fmt.Sprintf("%.4f", m.last.Gains.Kd))
	row("Retunes", fmt.Sprintf("%d", m.retunes))
	if m.err != nil {
		s.WriteString("\n" + statusFault.Render(m.err.Error()) + "\n")
	}
	s.WriteString(helpStyle.Render("q: stop and switch outputs off"))

	return lipgloss.JoinHorizontal(lipgloss.Top, left, panelStyle.Render(s.String())) + "\n"
}

func (m Dashboard) status() string {
	switch {
	case m.done && m.err != nil:
		return statusFault.Render("FAULT")
	case m.done:
		return statusStopping.Render("STOPPED")
	case m.stopping:
		return statusStopping.Render("STOPPING")
	}
	return statusRunning.Render("RUNNING")
}

func (m Dashboard) channelLabel() string {
	if m.last.Channel == "" {
		return valueStyle.Render("-")
	}
	if m.last.Command > 0 {
		return heatStyle.Render(fmt.Sprintf("heat %s", m.last.Channel))
	}
	return coolStyle.Render(fmt.Sprintf("cool %s", m.last.Channel))
}

// Result returns the final run outcome once DoneMsg has arrived.
func (m Dashboard) Result() (*loop.Result, error) {
	return m.result, m.err
}

// Retunes counts observed gain changes.
func (m Dashboard) Retunes() int { return m.retunes }
