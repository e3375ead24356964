package watch

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-sign/internal/protocol"
)

type fakeDaemon struct {
	sentence string
	edits    []string
	speaks   int
	err      error
}

func (f *fakeDaemon) snap() protocol.Snapshot {
	return protocol.Snapshot{CurrentSign: "A", Sentence: f.sentence, VideoFeed: "/video_feed"}
}

func (f *fakeDaemon) Snapshot(context.Context) (protocol.Snapshot, error) {
	return f.snap(), f.err
}

func (f *fakeDaemon) Edit(_ context.Context, op string) (protocol.Snapshot, error) {
	f.edits = append(f.edits, op)
	switch op {
	case "space":
		f.sentence += " "
	case "clear":
		f.sentence = ""
	}
	return f.snap(), nil
}

func (f *fakeDaemon) Speak(context.Context) (protocol.Snapshot, bool, error) {
	f.speaks++
	s := f.snap()
	s.Speaking = true
	return s, true, nil
}

// press runs the key through Update and executes the resulting command.
func press(t *testing.T, m *Model, k tea.KeyMsg) tea.Msg {
	t.Helper()
	_, cmd := m.Update(k)
	require.NotNil(t, cmd)
	msg := cmd()
	m.Update(msg)
	return msg
}

func TestKeysDriveDaemon(t *testing.T) {
	d := &fakeDaemon{sentence: "HI"}
	m := NewModel(d, 0, nil)

	press(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.Equal(t, "HI ", m.snapshot.Sentence)

	press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	assert.Equal(t, []string{"space", "backspace", "clear"}, d.edits)
	assert.Empty(t, m.snapshot.Sentence)

	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, 1, d.speaks)
	assert.True(t, m.snapshot.Speaking)
}

func TestQuit(t *testing.T) {
	m := NewModel(&fakeDaemon{}, 0, nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestViewShowsPlaceholderAndFeed(t *testing.T) {
	d := &fakeDaemon{}
	m := NewModel(d, 0, func(p string) string { return "http://daemon:8090" + p })
	m.Update(m.fetch()())

	out := m.View()
	assert.Contains(t, out, placeholder)
	assert.Contains(t, out, "http://daemon:8090/video_feed")
	assert.Contains(t, out, "A")
	assert.False(t, strings.Contains(out, "speaking"))
}

func TestViewShowsSentenceAndErrors(t *testing.T) {
	d := &fakeDaemon{sentence: "HELLO WORLD"}
	m := NewModel(d, 0, nil)
	m.Update(m.fetch()())
	assert.Contains(t, m.View(), "HELLO WORLD")

	d.err = errors.New("connection refused")
	m.Update(m.fetch()())
	out := m.View()
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "HELLO WORLD", "last good snapshot stays on screen")
}
