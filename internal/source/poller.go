// Package source samples the sign classifier at a fixed interval.
//
// Failed or empty samples are logged and skipped; the next tick proceeds
// as usual. There is no retry and no backoff.
package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultInterval = 200 * time.Millisecond

	latestKey = "latest"
)

type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	timeout  time.Duration
	fallback string
	logger   *slog.Logger
	latest   *cache.Cache

	observations metric.Int64Counter
	failures     metric.Int64Counter
}

type PollerConfig struct {
	Interval time.Duration
	// Timeout bounds a single fetch; zero means the interval.
	Timeout time.Duration
	// StaleAfter is how long the latest label stays current without a new
	// sample. Zero keeps it forever.
	StaleAfter time.Duration
	// Fallback is reported by Current when nothing fresh is known.
	Fallback string
}

func NewPoller(fetcher Fetcher, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	expiry := cfg.StaleAfter
	if expiry <= 0 {
		expiry = cache.NoExpiration
	}
	p := &Poller{
		fetcher:  fetcher,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		fallback: cfg.Fallback,
		logger:   logger.With(slog.String("component", "source-poller")),
		latest:   cache.New(expiry, time.Minute),
	}
	p.initMetrics()
	return p
}

func (p *Poller) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-sign/source")
	var err error
	if p.observations, err = meter.Int64Counter("loqa.sign.observations", metric.WithDescription("Labels sampled from the classifier")); err != nil {
		p.logger.Warn("failed to create observation counter", slog.String("error", err.Error()))
	}
	if p.failures, err = meter.Int64Counter("loqa.sign.fetch_failures", metric.WithDescription("Skipped samples")); err != nil {
		p.logger.Warn("failed to create failure counter", slog.String("error", err.Error()))
	}
}

// Run samples until ctx is cancelled, handing each label to observe.
func (p *Poller) Run(ctx context.Context, observe func(label string)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if label, ok := p.Sample(ctx); ok {
				observe(label)
			}
		}
	}
}

// Sample performs one fetch. ok is false when the cycle is skipped.
func (p *Poller) Sample(ctx context.Context) (string, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	label, err := p.fetcher.Fetch(fetchCtx)
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		if p.failures != nil {
			p.failures.Add(ctx, 1)
		}
		if errors.Is(err, ErrNoPrediction) {
			p.logger.Debug("sample skipped", slog.String("error", err.Error()))
		} else {
			p.logger.Warn("prediction fetch failed", slog.String("error", err.Error()))
		}
		return "", false
	}
	if p.observations != nil {
		p.observations.Add(ctx, 1)
	}
	p.latest.SetDefault(latestKey, label)
	return label, true
}

// Current returns the latest fresh label, or the fallback.
func (p *Poller) Current() string {
	if v, ok := p.latest.Get(latestKey); ok {
		return v.(string)
	}
	return p.fallback
}
