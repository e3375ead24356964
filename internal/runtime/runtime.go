package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/eventstore"
	"github.com/loqalabs/loqa-sign/internal/natsserver"
	"github.com/loqalabs/loqa-sign/internal/sentence"
	"github.com/loqalabs/loqa-sign/internal/session"
	"github.com/loqalabs/loqa-sign/internal/source"
	"github.com/loqalabs/loqa-sign/internal/tts"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	metrics     http.Handler
	store       *eventstore.Store
	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	session     *session.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metricsHandler

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	if r.metrics != nil {
		mux.Handle("GET /metrics", r.metrics)
	}
	newAPI(r.session, r.logger).register(mux)
	if err := r.mountVideo(mux); err != nil {
		r.logger.Warn("video feed proxy disabled", slog.String("error", err.Error()))
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("session_id", r.session.ID()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.stopServices()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	if r.cfg.Bus.Enabled {
		r.nats, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return err
		}
		busCfg := r.cfg.Bus
		if r.nats != nil {
			busCfg.Servers = []string{r.nats.ClientURL()}
		}
		r.bus, err = bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return err
		}
	}

	client, err := source.NewClient(r.cfg.Source.PredictionURL, r.cfg.Source.RequestTimeout())
	if err != nil {
		return fmt.Errorf("prediction source: %w", err)
	}
	poller := source.NewPoller(client, source.PollerConfig{
		Interval:   r.cfg.Source.SampleInterval(),
		Timeout:    r.cfg.Source.RequestTimeout(),
		StaleAfter: r.cfg.Source.StaleAfter(),
		Fallback:   sentence.NoSign,
	}, r.logger)

	player, err := r.newPlayer(ctx)
	if err != nil {
		return err
	}

	videoFeed := ""
	if r.cfg.Source.VideoFeedURL != "" {
		videoFeed = "/video_feed"
	}
	r.session = session.NewService(ctx, session.Config{
		RuntimeName: r.cfg.RuntimeName,
		Hold:        r.cfg.Accumulator.Hold(),
		Sentinels:   r.cfg.Accumulator.Sentinels,
		VideoFeed:   videoFeed,
	}, session.Deps{
		Poller: poller,
		Player: player,
		Bus:    r.bus,
		Store:  r.store,
	}, r.logger)
	if err := r.session.Start(); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

func (r *Runtime) newPlayer(ctx context.Context) (*tts.Player, error) {
	cfg := r.cfg.TTS
	if !cfg.Enabled {
		r.logger.Info("tts disabled")
		return nil, nil
	}

	var synth tts.Synthesizer
	switch cfg.Mode {
	case "exec":
		s, err := tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, fmt.Errorf("tts exec: %w", err)
		}
		synth = s
	default:
		synth = tts.NewMockSynth(cfg.SampleRate, cfg.Channels)
	}

	var sinks []tts.Sink
	if r.bus != nil {
		sinks = append(sinks, tts.NewBusSink(r.bus.Conn(), cfg.PublishAudio))
	}
	if cfg.PlayerCommand != "" {
		local, err := tts.NewCommandSink(cfg.PlayerCommand, r.logger)
		if err != nil {
			return nil, fmt.Errorf("tts player: %w", err)
		}
		sinks = append(sinks, local)
	}

	r.logger.Info("tts ready", slog.String("mode", cfg.Mode), slog.String("voice", cfg.Voice), slog.Int("sinks", len(sinks)))
	return tts.NewPlayer(ctx, synth, tts.PlayerConfig{Voice: cfg.Voice, Timeout: cfg.Timeout()}, r.logger, sinks...), nil
}

func (r *Runtime) mountVideo(mux *http.ServeMux) error {
	if r.cfg.Source.VideoFeedURL == "" {
		return nil
	}
	proxy, err := source.NewVideoProxy(r.cfg.Source.VideoFeedURL, r.logger)
	if err != nil {
		return err
	}
	mux.Handle("GET /video_feed", proxy)
	return nil
}

// stopServices tears down in reverse start order.
func (r *Runtime) stopServices() {
	if r.session != nil {
		r.session.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.session != nil && r.session.Healthy() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
