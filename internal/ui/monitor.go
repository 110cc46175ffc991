package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/brlink/internal/link"
)

// DefaultMonitorHistory is the number of frames the monitor keeps.
const DefaultMonitorHistory = 500

// Messages for async operations
type frameMsg link.Event
type linkClosedMsg struct{}
type statsTickMsg time.Time

const statsInterval = time.Second

// monitorKeyMap defines key bindings for the monitor screen
type monitorKeyMap struct {
	Pause key.Binding
	Clear key.Binding
	Help  key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Clear, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Pause, k.Clear},
		{k.Help, k.Quit},
	}
}

func newMonitorKeyMap() monitorKeyMap {
	return monitorKeyMap{
		Pause: key.NewBinding(
			key.WithKeys("p", " "),
			key.WithHelp("p/space", "pause"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Monitor is a live view of the frames arriving on a link.
//
// While paused, frames are still counted but not added to the list.
type Monitor struct {
	source  string
	events  <-chan link.Event
	statsFn func() link.Stats

	frames  []link.Event
	history int
	valid   int
	invalid int
	last    time.Time
	stats   link.Stats

	paused bool
	closed bool

	spinner spinner.Model
	help    help.Model
	keys    monitorKeyMap
	width   int
	height  int
}

// NewMonitor creates a monitor reading events until the channel is closed.
// statsFn may be nil.
func NewMonitor(source string, events <-chan link.Event, statsFn func() link.Stats) Monitor {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = WarningStyle

	width, height := GetTerminalSize()
	return Monitor{
		source:  source,
		events:  events,
		statsFn: statsFn,
		history: DefaultMonitorHistory,
		spinner: s,
		help:    help.New(),
		keys:    newMonitorKeyMap(),
		width:   width,
		height:  height,
	}
}

// WithHistory returns a copy of m keeping at most n frames.
func (m Monitor) WithHistory(n int) Monitor {
	if n > 0 {
		m.history = n
		m.trim()
	}
	return m
}

// Init implements tea.Model
func (m Monitor) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitForEvent(m.events)}
	if m.statsFn != nil {
		cmds = append(cmds, statsTick())
	}
	return tea.Batch(cmds...)
}

func waitForEvent(events <-chan link.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return linkClosedMsg{}
		}
		return frameMsg(ev)
	}
}

func statsTick() tea.Cmd {
	return tea.Tick(statsInterval, func(t time.Time) tea.Msg {
		return statsTickMsg(t)
	})
}

// Update implements tea.Model
func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Clear):
			m.frames = nil
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case frameMsg:
		ev := link.Event(msg)
		m.record(ev)
		return m, waitForEvent(m.events)

	case linkClosedMsg:
		m.closed = true
		if m.statsFn != nil {
			m.stats = m.statsFn()
		}
		return m, nil

	case statsTickMsg:
		if m.closed {
			return m, nil
		}
		m.stats = m.statsFn()
		return m, statsTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Monitor) record(ev link.Event) {
	if ev.Valid() {
		m.valid++
	} else {
		m.invalid++
	}
	m.last = ev.Time
	if m.paused {
		return
	}
	m.frames = append(m.frames, ev)
	m.trim()
}

func (m *Monitor) trim() {
	if over := len(m.frames) - m.history; over > 0 {
		m.frames = append(m.frames[:0:0], m.frames[over:]...)
	}
}

// Frames returns the frames currently held, oldest first.
func (m Monitor) Frames() []link.Event {
	return m.frames
}

// Counts returns the number of valid and invalid frames seen.
func (m Monitor) Counts() (valid, invalid int) {
	return m.valid, m.invalid
}

// Paused reports whether new frames are being held back from the list.
func (m Monitor) Paused() bool {
	return m.paused
}

// Closed reports whether the event channel has been closed.
func (m Monitor) Closed() bool {
	return m.closed
}

// View implements tea.Model
func (m Monitor) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("brlink monitor"))
	b.WriteString(" ")
	b.WriteString(SubtitleStyle.Render(m.source))
	b.WriteString("  ")
	b.WriteString(m.statusView())
	b.WriteString("\n")

	b.WriteString(MetaStyle.Render(fmt.Sprintf("frames %d  bad %d  last %s", m.valid, m.invalid, Since(m.last))))
	if m.statsFn != nil {
		b.WriteString("  ")
		b.WriteString(RenderStats(m.stats))
	}
	b.WriteString("\n\n")

	rows := m.visibleRows()
	start := len(m.frames) - rows
	if start < 0 {
		start = 0
	}
	for _, ev := range m.frames[start:] {
		b.WriteString(RenderEvent(ev))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Monitor) statusView() string {
	switch {
	case m.closed:
		return InvalidStyle.Render(InvalidMarker + " link closed")
	case m.paused:
		return WarningStyle.Render(PausedMarker + " paused")
	case m.valid+m.invalid == 0:
		return m.spinner.View() + SubtitleStyle.Render(" waiting for frames")
	default:
		return ValidStyle.Render(LiveMarker + " live")
	}
}

// visibleRows is the number of frame lines that fit between the status
// lines and the help view.
func (m Monitor) visibleRows() int {
	rows := m.height - 6
	if m.help.ShowAll {
		rows -= 2
	}
	if rows < 1 {
		rows = 1
	}
	return rows
}
