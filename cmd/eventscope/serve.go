package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "eventscope/internal/log"
	"eventscope/internal/metrics"
	"eventscope/internal/provider"
	"eventscope/internal/web"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Serve the filtered catalog over HTTP",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			conf.Listen = listen
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		a, err := newApp(ctx, conf, registry)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := web.NewServer(conf, metrics.Handler(registry))
		r := &renewer{app: a, srv: srv}

		// The first session is served while it loads so /api/catalog can
		// report progress.
		first, err := a.newSession(ctx)
		if err != nil {
			return err
		}
		srv.SetSession(first)
		go func() {
			if err := first.Load(ctx); err != nil {
				appLog.Warn("initial catalog load failed", err, "session", first.SessionID())
			}
		}()

		if conf.RefreshEnabled() {
			c := cron.New(cron.WithLocation(a.loc))
			if _, err := c.AddFunc(conf.Refresh, func() { r.renew(ctx) }); err != nil {
				return fmt.Errorf("invalid refresh schedule %q: %w", conf.Refresh, err)
			}
			c.Start()
			defer func() { <-c.Stop().Done() }()
			appLog.Info("session renewal scheduled", "refresh", conf.Refresh, "timezone", a.loc.String())
		}

		err = srv.ListenAndServe(ctx)
		if cur := srv.SetSession(nil); cur != nil {
			cur.Close()
		}
		appLog.Info("eventscope exiting")
		return err
	},
}

// renewer replaces the served session with a freshly loaded one.
type renewer struct {
	app *app
	srv *web.Server
	mu  sync.Mutex
}

// renew loads a new session and swaps it in once settled. A failed renewal
// keeps a Ready session in place; a Failed one is always replaced.
func (r *renewer) renew(ctx context.Context) {
	if !r.mu.TryLock() {
		appLog.Debug("session renewal already running; skipping tick")
		return
	}
	defer r.mu.Unlock()

	next, err := r.app.loadSession(ctx)
	if err != nil {
		appLog.Warn("session renewal aborted", err)
		return
	}
	cur := r.srv.Session()
	if next.State() == provider.StateFailed && cur != nil && cur.State() == provider.StateReady {
		appLog.Warn("session renewal failed; keeping current session", next.Err(),
			"current", cur.SessionID(), "failed", next.SessionID())
		next.Close()
		return
	}

	// Toggles made on cur while next was loading must survive the swap.
	// Closing cur first freezes its preferences: a toggle still in flight
	// completes before Close returns and later ones fail with ErrClosed.
	if cur != nil {
		cur.Close()
		if err := next.AdoptPreferences(cur.Preferences()); err != nil {
			appLog.Warn("could not carry preferences into renewed session", err, "session", next.SessionID())
		}
	}
	old := r.srv.SetSession(next)
	appLog.Info("session renewed", "session", next.SessionID(), "state", next.State().String(), "source", string(next.Source()))
	if old != nil && old != cur {
		old.Close()
	}
}

func init() {
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides config if set)")
}
