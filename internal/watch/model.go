// Package watch provides the Bubble Tea live view of a signing session.
package watch

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loqalabs/loqa-sign/internal/protocol"
)

const placeholder = "Start signing to build a sentence..."

// Daemon is the part of the HTTP client the view drives.
type Daemon interface {
	Snapshot(ctx context.Context) (protocol.Snapshot, error)
	Edit(ctx context.Context, op string) (protocol.Snapshot, error)
	Speak(ctx context.Context) (protocol.Snapshot, bool, error)
}

type keyMap struct {
	Space     key.Binding
	Backspace key.Binding
	Clear     key.Binding
	Speak     key.Binding
	Quit      key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Space, k.Backspace, k.Clear, k.Speak, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Space:     key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "space")),
	Backspace: key.NewBinding(key.WithKeys("backspace"), key.WithHelp("⌫", "back")),
	Clear:     key.NewBinding(key.WithKeys("c", "delete"), key.WithHelp("c", "clear")),
	Speak:     key.NewBinding(key.WithKeys("enter", "s"), key.WithHelp("enter", "speak")),
	Quit:      key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	signStyle     = lipgloss.NewStyle().Bold(true).Padding(0, 2).Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#C89A3A"))
	sentenceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Border(lipgloss.NormalBorder()).Padding(0, 1)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
)

type tickMsg time.Time

type snapshotMsg struct {
	snap protocol.Snapshot
	err  error
}

// Model polls the daemon and forwards edits to it.
type Model struct {
	daemon   Daemon
	refresh  time.Duration
	timeout  time.Duration
	resolve  func(string) string
	help     help.Model
	spinner  spinner.Model
	snapshot protocol.Snapshot
	err      error
	width    int
}

// NewModel builds the view. resolve turns the snapshot's video feed path
// into something the user can open.
func NewModel(d Daemon, refresh time.Duration, resolve func(string) string) *Model {
	if refresh <= 0 {
		refresh = 200 * time.Millisecond
	}
	if resolve == nil {
		resolve = func(s string) string { return s }
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Model{
		daemon:   d,
		refresh:  refresh,
		timeout:  2 * time.Second,
		resolve:  resolve,
		help:     help.New(),
		spinner:  sp,
		snapshot: protocol.Snapshot{CurrentSign: "..."},
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick(), m.spinner.Tick)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())
	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.snapshot = msg.snap
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Space):
			return m, m.edit("space")
		case key.Matches(msg, keys.Backspace):
			return m, m.edit("backspace")
		case key.Matches(msg, keys.Clear):
			return m, m.edit("clear")
		case key.Matches(msg, keys.Speak):
			return m, m.speak()
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("loqa-sign") + mutedStyle.Render("  sign-to-sentence"))
	b.WriteString("\n\n")

	b.WriteString(signStyle.Render(m.snapshot.CurrentSign))
	b.WriteString("\n\n")

	text := m.snapshot.Sentence
	style := sentenceStyle
	if text == "" {
		text = placeholder
		style = style.Foreground(lipgloss.Color("#8C8C8C"))
	}
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	b.WriteString(style.Render(text))
	b.WriteString("\n")

	if m.snapshot.Speaking {
		b.WriteString(m.spinner.View() + " speaking\n")
	} else {
		b.WriteString("\n")
	}
	if feed := m.resolve(m.snapshot.VideoFeed); feed != "" {
		b.WriteString(mutedStyle.Render("video: "+feed) + "\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("daemon: "+m.err.Error()) + "\n")
	}
	b.WriteString("\n" + m.help.View(keys))
	return b.String()
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		snap, err := m.daemon.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m *Model) edit(op string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		snap, err := m.daemon.Edit(ctx, op)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m *Model) speak() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		snap, _, err := m.daemon.Speak(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}
