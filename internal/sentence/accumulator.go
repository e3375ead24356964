// Package sentence turns a stream of sign labels into committed symbols.
//
// An Accumulator commits a label only after it has been observed unchanged
// for the whole hold duration. Every change of label re-arms a single
// pending timer, so flickering input never commits anything.
package sentence

import (
	"sync"
	"time"
)

const (
	// NoSign is reported by the classifier when no hand is in frame.
	NoSign = "..."
	// Waiting is reported by the classifier before its first prediction.
	Waiting = "Waiting..."

	DefaultHold = 1200 * time.Millisecond
)

// DefaultSentinels are the labels that never reach the sentence.
func DefaultSentinels() []string {
	return []string{NoSign, Waiting}
}

// Sink receives committed symbols.
type Sink interface {
	Commit(symbol string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(symbol string)

func (f SinkFunc) Commit(symbol string) { f(symbol) }

type Option func(*Accumulator)

func WithHold(d time.Duration) Option {
	return func(a *Accumulator) {
		if d > 0 {
			a.hold = d
		}
	}
}

func WithSentinels(labels ...string) Option {
	return func(a *Accumulator) {
		if len(labels) == 0 {
			return
		}
		a.sentinels = make(map[string]struct{}, len(labels))
		for _, l := range labels {
			a.sentinels[l] = struct{}{}
		}
	}
}

func WithClock(c Clock) Option {
	return func(a *Accumulator) {
		if c != nil {
			a.clock = c
		}
	}
}

// Accumulator debounces observations into commits.
type Accumulator struct {
	hold      time.Duration
	sentinels map[string]struct{}
	clock     Clock
	sink      Sink

	mu      sync.Mutex
	last    string
	pending Timer
	// generation is bumped on every re-arm; a timer whose generation is
	// stale when it fires lost a race with Observe or Close.
	generation uint64
	closed     bool
}

func NewAccumulator(sink Sink, opts ...Option) *Accumulator {
	a := &Accumulator{
		hold:  DefaultHold,
		clock: SystemClock(),
		sink:  sink,
		last:  NoSign,
	}
	WithSentinels(DefaultSentinels()...)(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Observe feeds one sampled label.
func (a *Accumulator) Observe(label string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || label == a.last {
		return
	}
	if a.pending != nil {
		a.pending.Stop()
	}
	a.last = label
	a.generation++
	gen := a.generation
	a.pending = a.clock.AfterFunc(a.hold, func() { a.fire(gen, label) })
}

func (a *Accumulator) fire(gen uint64, label string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || gen != a.generation {
		return
	}
	a.pending = nil
	if a.IsSentinel(label) || a.sink == nil {
		return
	}
	a.sink.Commit(label)
}

// IsSentinel reports whether label is never committed.
func (a *Accumulator) IsSentinel(label string) bool {
	_, ok := a.sentinels[label]
	return ok
}

// Last returns the most recently observed label.
func (a *Accumulator) Last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Pending reports whether a commit timer is armed.
func (a *Accumulator) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

// Close stops the pending timer. No commit happens after Close returns.
func (a *Accumulator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.generation++
	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
}
