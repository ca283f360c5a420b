// Package app wires all Polyglot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithLiveProvider, WithHistoryStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/polyglotlabs/polyglot/internal/config"
	"github.com/polyglotlabs/polyglot/internal/gateway"
	"github.com/polyglotlabs/polyglot/internal/history"
	"github.com/polyglotlabs/polyglot/internal/observe"
	"github.com/polyglotlabs/polyglot/internal/resilience"
	"github.com/polyglotlabs/polyglot/pkg/provider/live"
	"github.com/polyglotlabs/polyglot/pkg/provider/llm"
)

// defaultListenAddr is used when server.listen_addr is not configured.
const defaultListenAddr = ":8080"

// defaultHistoryPath is the file-backend location when history.path is empty.
const defaultHistoryPath = "polyglot-history.json"

// App owns all subsystem lifetimes for the practice server.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// level backs the root logger so hot-reload can change verbosity.
	level *slog.LevelVar

	livep   live.Provider
	coach   llm.Provider
	store   history.Store
	gateway *gateway.Server
	srv     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLiveProvider injects a realtime provider instead of creating one from config.
func WithLiveProvider(p live.Provider) Option {
	return func(a *App) { a.livep = p }
}

// WithCoachProvider injects a coach LLM instead of creating one from config.
func WithCoachProvider(p llm.Provider) Option {
	return func(a *App) { a.coach = p }
}

// WithHistoryStore injects a session store instead of creating one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLogLevelVar injects the level var backing the root logger so config
// hot-reload can adjust verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Providers and the
// history store come from the config unless injected via Option functions.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Providers ─────────────────────────────────────────────────────
	if err := a.initProviders(reg); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 2. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Gateway + HTTP server ─────────────────────────────────────────
	a.gateway = gateway.New(gateway.Config{
		Live:  a.livep,
		Coach: a.coach,
		Store: a.store,
		Defaults: gateway.Defaults{
			Voice:     cfg.Practice.Voice,
			Language:  cfg.Practice.Language,
			Mode:      string(cfg.Practice.Mode),
			Situation: cfg.Practice.Situation,
		},
		Suggestions: gateway.SuggestionsPolicy{
			Disabled: cfg.Suggestions.Disabled(),
			Count:    cfg.Suggestions.Count,
		},
		Log: a.log,
	})

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	a.srv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(a.gateway.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initProviders creates the live and coach providers from the registry,
// unless test doubles were injected.
func (a *App) initProviders(reg *config.Registry) error {
	if a.livep == nil {
		p, err := reg.CreateLive(a.cfg.Providers.Live)
		if err != nil {
			return fmt.Errorf("create live provider %q: %w", a.cfg.Providers.Live.Name, err)
		}
		a.livep = p
		slog.Info("provider created", "kind", "live", "name", a.cfg.Providers.Live.Name)
	}

	if a.coach == nil && a.cfg.Providers.Coach.Name != "" {
		p, err := reg.CreateLLM(a.cfg.Providers.Coach)
		if err != nil {
			return fmt.Errorf("create coach provider %q: %w", a.cfg.Providers.Coach.Name, err)
		}
		// The breaker stops a failing coach backend from being hammered on
		// every conversation turn.
		a.coach = resilience.NewLLMFallback(p, a.cfg.Providers.Coach.Name, resilience.FallbackConfig{})
		slog.Info("provider created", "kind", "coach", "name", a.cfg.Providers.Coach.Name)
	}

	return nil
}

// initHistory sets up the configured session store or uses an injected one.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	maxSessions := a.cfg.History.MaxSessions
	if maxSessions == 0 {
		maxSessions = history.DefaultMaxSessions
	}

	switch a.cfg.History.Backend {
	case config.HistoryPostgres:
		pool, err := pgxpool.New(ctx, a.cfg.History.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		store, err := history.NewPGStore(ctx, pool, maxSessions)
		if err != nil {
			pool.Close()
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})

	default: // file
		path := a.cfg.History.Path
		if path == "" {
			path = defaultHistoryPath
		}
		store, err := history.NewFileStore(path, maxSessions)
		if err != nil {
			return err
		}
		a.store = store
	}

	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains in-flight connections.
// It returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cert, key := a.cfg.Server.TLSCertFile, a.cfg.Server.TLSKeyFile
		slog.Info("server listening", "addr", a.srv.Addr, "tls", cert != "")

		var err error
		if cert != "" {
			err = a.srv.ListenAndServeTLS(cert, key)
		} else {
			err = a.srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyDiff applies a hot-reloadable config change: log verbosity takes
// effect immediately, practice defaults apply to the next session.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PracticeChanged && a.gateway != nil {
		a.gateway.SetDefaults(gateway.Defaults{
			Voice:     d.NewPractice.Voice,
			Language:  d.NewPractice.Language,
			Mode:      string(d.NewPractice.Mode),
			Situation: d.NewPractice.Situation,
		})
		slog.Info("practice defaults changed",
			"language", d.NewPractice.Language,
			"mode", d.NewPractice.Mode,
		)
	}
}

// slogLevel maps a config.LogLevel to the slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
