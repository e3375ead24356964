package sentence

import (
	"sync"
	"unicode/utf8"
)

// Op names a change applied to the sentence buffer.
type Op string

const (
	OpCommit    Op = "commit"
	OpSpace     Op = "space"
	OpBackspace Op = "backspace"
	OpClear     Op = "clear"
)

// ParseOp maps a user edit name to an Op. Commits are not user edits.
func ParseOp(name string) (Op, bool) {
	switch Op(name) {
	case OpSpace, OpBackspace, OpClear:
		return Op(name), true
	}
	return "", false
}

// Buffer holds the accumulated sentence. It is append-only apart from
// the explicit Space, Backspace and Clear edits.
type Buffer struct {
	mu   sync.RWMutex
	text []byte
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a committed symbol and returns the new text.
func (b *Buffer) Append(symbol string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = append(b.text, symbol...)
	return string(b.text)
}

// Commit satisfies Sink so a Buffer can sit directly behind an Accumulator.
func (b *Buffer) Commit(symbol string) {
	b.Append(symbol)
}

func (b *Buffer) Space() string {
	return b.Append(" ")
}

// Backspace removes the last character. On an empty buffer it does nothing.
func (b *Buffer) Backspace() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.text) == 0 {
		return ""
	}
	_, size := utf8.DecodeLastRune(b.text)
	b.text = b.text[:len(b.text)-size]
	return string(b.text)
}

func (b *Buffer) Clear() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = b.text[:0]
	return ""
}

// Apply runs a user edit and returns the resulting text.
func (b *Buffer) Apply(op Op) string {
	switch op {
	case OpSpace:
		return b.Space()
	case OpBackspace:
		return b.Backspace()
	case OpClear:
		return b.Clear()
	}
	return b.Text()
}

func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.text)
}

// Len reports the number of characters in the buffer.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return utf8.RuneCount(b.text)
}
