package tts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type PlayerConfig struct {
	Voice   string
	Timeout time.Duration
}

// Player speaks one utterance at a time. A new Speak supersedes the
// utterance in progress.
type Player struct {
	synth   Synthesizer
	sinks   []Sink
	voice   string
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer

	playbacks metric.Int64Counter

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	cancel   context.CancelFunc
	gen      uint64
	speaking bool
}

func NewPlayer(parent context.Context, synth Synthesizer, cfg PlayerConfig, logger *slog.Logger, sinks ...Sink) *Player {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	ctx, stop := context.WithCancel(parent)
	p := &Player{
		synth:   synth,
		sinks:   sinks,
		voice:   cfg.Voice,
		timeout: cfg.Timeout,
		logger:  logger.With(slog.String("component", "tts-player")),
		tracer:  otel.Tracer("github.com/loqalabs/loqa-sign/tts"),
		ctx:     ctx,
		stop:    stop,
	}
	counter, err := otel.Meter("github.com/loqalabs/loqa-sign/tts").Int64Counter("loqa.sign.playbacks", metric.WithDescription("Speak requests started"))
	if err != nil {
		p.logger.Warn("failed to create playback counter", slogError(err))
	}
	p.playbacks = counter
	return p
}

// Speak starts speaking text and reports whether playback started.
// Empty text is ignored.
func (p *Player) Speak(sessionID, text string) bool {
	if text == "" {
		return false
	}

	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return false
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	p.cancel = cancel
	p.speaking = true
	p.wg.Add(1)
	p.mu.Unlock()

	if p.playbacks != nil {
		p.playbacks.Add(ctx, 1)
	}
	go p.play(ctx, cancel, gen, SynthRequest{SessionID: sessionID, Text: text, Voice: p.voice})
	return true
}

func (p *Player) play(ctx context.Context, cancel context.CancelFunc, gen uint64, req SynthRequest) {
	defer p.wg.Done()
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "tts.speak", trace.WithAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.Int("text_length", len(req.Text)),
	))
	defer span.End()

	u := Utterance{SessionID: req.SessionID, Text: req.Text}
	chunks, errs := p.synth.Synthesize(ctx, req)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			u.SampleRate = chunk.SampleRate
			u.Channels = chunk.Channels
			u.PCM = append(u.PCM, chunk.PCM...)
			for _, sink := range p.sinks {
				if err := sink.Chunk(ctx, chunk); err != nil {
					p.logger.Warn("tts sink rejected chunk", slogError(err))
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && ctx.Err() == nil {
				span.RecordError(err)
				p.logger.Warn("tts synthesis error", slogError(err))
			}
		}
	}

	u.Superseded = !p.isCurrent(gen)
	span.SetAttributes(attribute.Bool("superseded", u.Superseded))
	for _, sink := range p.sinks {
		if err := sink.Done(ctx, u); err != nil && ctx.Err() == nil {
			p.logger.Warn("tts playback failed", slogError(err))
		}
	}

	p.mu.Lock()
	if p.gen == gen {
		p.speaking = false
		p.cancel = nil
	}
	p.mu.Unlock()
}

func (p *Player) isCurrent(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen && p.ctx.Err() == nil
}

// Speaking reports whether an utterance is in progress.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// Cancel stops the utterance in progress, if any.
func (p *Player) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.gen++
		p.cancel()
		p.cancel = nil
		p.speaking = false
	}
}

func (p *Player) Close() {
	p.stop()
	p.wg.Wait()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
