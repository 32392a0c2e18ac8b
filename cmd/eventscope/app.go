package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eventscope/internal/cache"
	"eventscope/internal/config"
	"eventscope/internal/events"
	"eventscope/internal/fetch"
	"eventscope/internal/kv"
	appLog "eventscope/internal/log"
	"eventscope/internal/metrics"
	"eventscope/internal/prefs"
	"eventscope/internal/provider"
)

// app bundles the long-lived collaborators shared by every session of one
// process: storage, the fetch client, the publisher and metrics.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	store    kv.Store
	cache    *cache.Manager
	prefs    *prefs.Store
	fetcher  fetch.Fetcher
	pub      events.Publisher
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	closers []func() error
}

// newApp opens storage and, if configured, the NATS publisher. When
// registry is non-nil the metrics are registered with it.
func newApp(ctx context.Context, cfg *config.Config, registry *prometheus.Registry) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, loc: loc, registry: registry}
	if registry != nil {
		a.metrics = metrics.New(registry)
	} else {
		a.metrics = metrics.New(nil)
	}

	store, closeStore, err := openStore(ctx, cfg, configPath)
	if err != nil {
		return nil, err
	}
	a.store = store
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	a.cache = cache.NewManager(store, cache.WithObserver(a.metrics))
	a.prefs = prefs.NewStore(store)
	a.fetcher = fetch.NewHTTPClient(cfg.APIBaseURL, timeout)
	a.pub = openPublisher(cfg.NATSURL)
	a.closers = append(a.closers, a.pub.Close)
	return a, nil
}

// openPublisher connects to NATS when url is set. A broker that cannot be
// reached is logged and replaced by a no-op publisher.
func openPublisher(url string) events.Publisher {
	if url == "" {
		return &events.NoopPublisher{}
	}
	pub, err := events.NewNATSPublisher(url)
	if err != nil {
		appLog.Warn("NATS unavailable; session events will not be published", err, "url", url)
		return &events.NoopPublisher{}
	}
	appLog.Info("publishing session events", "url", url)
	return pub
}

// newSession starts a fresh provider session on the shared collaborators.
func (a *app) newSession(ctx context.Context) (*provider.Provider, error) {
	return provider.New(ctx, a.cache, a.prefs, a.fetcher,
		provider.WithPublisher(a.pub),
		provider.WithRecorder(a.metrics),
	)
}

// loadSession starts a session and waits for it to settle. A failed load is
// not an error here: the session is returned in the Failed state.
func (a *app) loadSession(ctx context.Context) (*provider.Provider, error) {
	p, err := a.newSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.Load(ctx); err != nil {
		if errors.Is(err, provider.ErrClosed) || ctx.Err() != nil {
			p.Close()
			return nil, err
		}
		appLog.Debug("session load failed", "session", p.SessionID(), "error", err.Error())
	}
	return p, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
