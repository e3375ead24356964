// Package session wires one signing session together: the poller feeds
// the accumulator, commits and user edits land in the sentence buffer, and
// every change is published on the bus and recorded in the event store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/eventstore"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/loqalabs/loqa-sign/internal/sentence"
	"github.com/loqalabs/loqa-sign/internal/source"
	"github.com/loqalabs/loqa-sign/internal/tts"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrClosed = errors.New("session closed")

type Config struct {
	RuntimeName string
	Hold        time.Duration
	Sentinels   []string
	VideoFeed   string
	// Clock drives the hold timer; nil uses the system clock.
	Clock sentence.Clock
}

// Deps are the collaborators of a session. Bus and Player may be nil.
type Deps struct {
	Poller *source.Poller
	Player *tts.Player
	Bus    *bus.Client
	Store  *eventstore.Store
}

type change struct {
	op     sentence.Op
	symbol string
	text   string
	at     time.Time
}

type Service struct {
	id        string
	runtime   string
	videoFeed string
	poller    *source.Poller
	acc       *sentence.Accumulator
	buf       *sentence.Buffer
	player    *tts.Player
	bus       *bus.Client
	store     *eventstore.Store
	logger    *slog.Logger

	commits metric.Int64Counter
	edits   metric.Int64Counter

	ctx     context.Context
	cancel  context.CancelFunc
	sampler sync.WaitGroup
	emitter sync.WaitGroup
	changes chan change

	subEdit  *nats.Subscription
	subSpeak *nats.Subscription

	mu        sync.Mutex
	started   bool
	closed    bool
	updatedAt time.Time
}

func NewService(parent context.Context, cfg Config, deps Deps, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		id:        uuid.NewString(),
		runtime:   cfg.RuntimeName,
		videoFeed: cfg.VideoFeed,
		poller:    deps.Poller,
		buf:       sentence.NewBuffer(),
		player:    deps.Player,
		bus:       deps.Bus,
		store:     deps.Store,
		ctx:       ctx,
		cancel:    cancel,
		changes:   make(chan change, 64),
		updatedAt: time.Now().UTC(),
	}
	s.logger = logger.With(slog.String("component", "session"), slog.String("session_id", s.id))

	opts := []sentence.Option{sentence.WithHold(cfg.Hold), sentence.WithClock(cfg.Clock)}
	if len(cfg.Sentinels) > 0 {
		opts = append(opts, sentence.WithSentinels(cfg.Sentinels...))
	}
	s.acc = sentence.NewAccumulator(sentence.SinkFunc(s.commit), opts...)

	meter := otel.Meter("github.com/loqalabs/loqa-sign/session")
	var err error
	if s.commits, err = meter.Int64Counter("loqa.sign.commits", metric.WithDescription("Signs committed to the sentence")); err != nil {
		s.logger.Warn("failed to create commit counter", slogError(err))
	}
	if s.edits, err = meter.Int64Counter("loqa.sign.edits", metric.WithDescription("Manual sentence edits")); err != nil {
		s.logger.Warn("failed to create edit counter", slogError(err))
	}
	return s
}

func (s *Service) Start() error {
	if s.store != nil {
		if err := s.store.StartSession(s.ctx, s.id, s.runtime); err != nil {
			return err
		}
	}

	if s.bus != nil {
		sub, err := s.bus.Subscribe(protocol.SubjectSentenceEdit, s.handleEdit)
		if err != nil {
			return err
		}
		s.subEdit = sub

		subSpeak, err := s.bus.Subscribe(protocol.SubjectSentenceSpeak, s.handleSpeak)
		if err != nil {
			_ = s.subEdit.Drain()
			return err
		}
		s.subSpeak = subSpeak
	}

	s.emitter.Add(1)
	go s.emitLoop()

	if s.poller != nil {
		s.sampler.Add(1)
		go func() {
			defer s.sampler.Done()
			s.poller.Run(s.ctx, s.acc.Observe)
		}()
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.logger.Info("session started")
	return nil
}

// Close stops sampling, cancels the pending commit and flushes queued
// changes. Nothing reaches the sentence after Close returns.
func (s *Service) Close() {
	s.cancel()
	s.sampler.Wait()
	s.acc.Close()

	if s.subEdit != nil {
		_ = s.subEdit.Drain()
	}
	if s.subSpeak != nil {
		_ = s.subSpeak.Drain()
	}
	if s.player != nil {
		s.player.Close()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.changes)
	s.mu.Unlock()

	s.emitter.Wait()
	s.logger.Info("session closed")
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return false
	}
	return s.bus == nil || (s.subEdit != nil && s.subSpeak != nil)
}

func (s *Service) ID() string { return s.id }

func (s *Service) Snapshot() protocol.Snapshot {
	s.mu.Lock()
	updated := s.updatedAt
	s.mu.Unlock()

	current := sentence.NoSign
	if s.poller != nil {
		current = s.poller.Current()
	}
	return protocol.Snapshot{
		SessionID:   s.id,
		CurrentSign: current,
		Sentence:    s.buf.Text(),
		Speaking:    s.player != nil && s.player.Speaking(),
		VideoFeed:   s.videoFeed,
		UpdatedAt:   updated,
	}
}

// Edit applies a manual edit immediately. The pending commit, if any, is
// left alone.
func (s *Service) Edit(op sentence.Op) (protocol.Snapshot, error) {
	if _, ok := sentence.ParseOp(string(op)); !ok {
		return protocol.Snapshot{}, fmt.Errorf("unknown edit %q", op)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.Snapshot{}, ErrClosed
	}
	text := s.buf.Apply(op)
	s.record(change{op: op, text: text})
	s.mu.Unlock()

	if s.edits != nil {
		s.edits.Add(s.ctx, 1, metric.WithAttributes(attribute.String("op", string(op))))
	}
	return s.Snapshot(), nil
}

// Speak reads the whole sentence aloud, superseding any utterance in
// progress. An empty sentence or a disabled player speaks nothing.
func (s *Service) Speak() (protocol.Snapshot, bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.Snapshot{}, false, ErrClosed
	}
	text := s.buf.Text()
	s.mu.Unlock()

	if s.player == nil {
		return s.Snapshot(), false, nil
	}
	started := s.player.Speak(s.id, text)
	if started {
		s.mu.Lock()
		if !s.closed {
			s.changes <- change{op: opSpeak, text: text, at: time.Now().UTC()}
		}
		s.mu.Unlock()
		s.logger.Debug("speaking sentence", slog.Int("length", len(text)))
	}
	return s.Snapshot(), started, nil
}

// History returns the latest recorded changes of this session.
func (s *Service) History(ctx context.Context, limit int) ([]eventstore.Event, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.History(ctx, s.id, limit)
}

// opSpeak marks a speak request in the change stream. It never touches the
// buffer.
const opSpeak sentence.Op = "speak"

func (s *Service) commit(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	text := s.buf.Append(symbol)
	s.record(change{op: sentence.OpCommit, symbol: symbol, text: text})
	if s.commits != nil {
		s.commits.Add(s.ctx, 1)
	}
	s.logger.Debug("sign committed", slog.String("symbol", symbol))
}

// record queues a buffer change. Callers hold s.mu.
func (s *Service) record(c change) {
	c.at = time.Now().UTC()
	s.updatedAt = c.at
	s.changes <- c
}

func (s *Service) emitLoop() {
	defer s.emitter.Done()
	for c := range s.changes {
		s.emit(c)
	}
}

func (s *Service) emit(c change) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 2*time.Second)
	defer cancel()

	if s.store != nil {
		evt := eventstore.Event{
			SessionID: s.id,
			Type:      "sentence." + string(c.op),
			Symbol:    c.symbol,
			Text:      c.text,
			CreatedAt: c.at,
		}
		if err := s.store.Append(ctx, evt); err != nil {
			s.logger.Warn("failed to record sentence event", slogError(err))
		}
	}
	if s.bus != nil && c.op != opSpeak {
		update := protocol.SentenceUpdate{
			SessionID: s.id,
			Op:        string(c.op),
			Symbol:    c.symbol,
			Text:      c.text,
			Timestamp: c.at,
		}
		if err := s.bus.PublishJSON(protocol.SubjectSentenceUpdated, update); err != nil {
			s.logger.Warn("failed to publish sentence update", slogError(err))
		}
	}
}

func (s *Service) handleEdit(msg *nats.Msg) {
	var req protocol.SentenceEdit
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("session failed to decode edit", slogError(err))
		return
	}
	if req.SessionID != "" && req.SessionID != s.id {
		return
	}
	op, ok := sentence.ParseOp(req.Op)
	if !ok {
		s.logger.Warn("session ignored unknown edit", slog.String("op", req.Op))
		return
	}
	snap, err := s.Edit(op)
	if err != nil {
		return
	}
	s.reply(msg, snap)
}

func (s *Service) handleSpeak(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.logger.Warn("session failed to decode speak request", slogError(err))
			return
		}
	}
	if req.SessionID != "" && req.SessionID != s.id {
		return
	}
	snap, _, err := s.Speak()
	if err != nil {
		return
	}
	s.reply(msg, snap)
}

func (s *Service) reply(msg *nats.Msg, snap protocol.Snapshot) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("session failed to reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
