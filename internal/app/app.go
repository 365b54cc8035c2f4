// Package app wires glimpse's components together and owns their lifecycle.
//
// The App is the composition root: it builds the metrics registry, the event
// bus, the preamble store, the render pipeline, the editor notifier, the
// update ingress and the frontend bridge from one *config.Config, starts
// them in dependency order and shuts them down in reverse.
//
// An ingress port already taken by another glimpse instance is reported
// once as a startup diagnostic; the remaining components keep running.
package app

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/conneroisu/glimpse/internal/config"
	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/eventbus"
	"github.com/conneroisu/glimpse/internal/ingress"
	"github.com/conneroisu/glimpse/internal/logging"
	"github.com/conneroisu/glimpse/internal/metrics"
	"github.com/conneroisu/glimpse/internal/notifier"
	"github.com/conneroisu/glimpse/internal/preamble"
	"github.com/conneroisu/glimpse/internal/renderer"
	"github.com/conneroisu/glimpse/internal/server"
)

// DefaultShutdownTimeout bounds Run's shutdown once its context is done.
const DefaultShutdownTimeout = 5 * time.Second

// App holds every running component.
//
// Invariants:
//   - every field except watcher is set by New and never reassigned
//   - bridge is nil when server.enabled is false
//   - shutdown happens exactly once via shutdownOnce
type App struct {
	config *config.Config
	logger logging.Logger

	metrics  *metrics.Metrics
	bus      *eventbus.Bus
	preamble *preamble.Store
	renderer *renderer.Renderer
	notifier *notifier.Notifier
	ingress  *ingress.Server
	bridge   *server.Server

	// watcher is created by Start when preamble.watch is on and the config
	// directory exists.
	watcher   *preamble.Watcher
	watcherMu sync.Mutex

	// ingressErr is the startup diagnostic when the ingress could not bind.
	ingressErr error

	shutdownOnce sync.Once
}

// New builds the components described by cfg. A nil cfg means
// config.Default(). The user preamble is read once here.
func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx := context.Background()

	m := metrics.New()
	bus := eventbus.New(eventbus.DefaultBufferSize, logger, m)
	store := NewPreambleStore(ctx, cfg, logger, m)
	pipeline := NewRenderPipeline(cfg, store, logger, m)
	store.OnReload(func(string) { pipeline.Purge() })

	a := &App{
		config:   cfg,
		logger:   logger.WithComponent("app"),
		metrics:  m,
		bus:      bus,
		preamble: store,
		renderer: pipeline,
		notifier: notifier.New(cfg.NotifierAddr(), logger, m),
		ingress: ingress.New(ingress.Config{
			Addr:         cfg.IngressAddr(),
			MaxBodyBytes: cfg.Ingress.MaxBodyBytes,
		}, bus, logger, m),
	}

	if cfg.Server.Enabled {
		a.bridge = server.New(server.Config{
			Addr:           cfg.ServerAddr(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxBodyBytes:   cfg.Ingress.MaxBodyBytes,
		}, server.Dependencies{
			Events:   bus,
			Renderer: pipeline,
			Notifier: a.notifier,
			Preamble: store,
			Metrics:  m,
		}, logger)
	}

	return a, nil
}

// NewPreambleStore resolves the preamble directory and seeds a store from
// it. An unresolvable directory is logged and the default preamble is used.
func NewPreambleStore(ctx context.Context, cfg *config.Config, logger logging.Logger, m *metrics.Metrics) *preamble.Store {
	initial := preamble.DefaultPreamble
	dir, err := preamble.ResolveConfigDir(cfg.Preamble.ConfigDir)
	if err != nil {
		logger.Warn(ctx, err, "Could not determine config directory, using default preamble")
	} else {
		initial = preamble.Load(ctx, dir, logger)
	}
	return preamble.NewStore(initial, cfg.Preamble.ConfigDir, logger, m)
}

// NewRenderPipeline builds the toolchain-backed renderer described by cfg.
func NewRenderPipeline(cfg *config.Config, source renderer.PreambleSource, logger logging.Logger, m *metrics.Metrics) *renderer.Renderer {
	compiler := renderer.NewCompiler(renderer.CompilerConfig{
		LatexCommand:   cfg.Render.LatexCommand,
		DvisvgmCommand: cfg.Render.DvisvgmCommand,
		Zoom:           cfg.Render.Zoom,
		Timeout:        cfg.Render.Timeout,
	}, logger)
	return renderer.New(compiler, source, renderer.Options{
		Workers:   cfg.Render.Workers,
		CacheSize: cfg.Render.CacheSize,
	}, logger, m)
}

// Start launches every component and returns once they are listening.
// Only a frontend bridge bind failure is returned; an ingress bind failure
// is logged and kept as IngressErr.
func (a *App) Start(ctx context.Context) error {
	if err := a.ingress.Start(ctx); err != nil {
		a.ingressErr = err
		a.logger.Error(ctx, err, "Update ingress unavailable, continuing without editor updates",
			"addr", a.config.IngressAddr())
	}

	if a.bridge != nil {
		if err := a.bridge.Start(ctx); err != nil {
			return err
		}
	}

	if a.config.Preamble.Watch {
		a.startWatcher(ctx)
	}

	a.logger.Info(ctx, "Glimpse started",
		"ingress", a.ingress.Addr(),
		"notifier", a.notifier.Addr(),
		"workers", a.renderer.Workers())
	return nil
}

func (a *App) startWatcher(ctx context.Context) {
	w, err := preamble.NewWatcher(a.preamble, a.config.Preamble.Debounce, a.logger)
	if err != nil {
		a.logger.Info(ctx, "Not watching preamble", "reason", err.Error())
		return
	}
	if err := w.Start(ctx); err != nil {
		a.logger.Warn(ctx, err, "Could not start preamble watcher")
		_ = w.Stop()
		return
	}

	a.watcherMu.Lock()
	a.watcher = w
	a.watcherMu.Unlock()
}

// Run starts the app, blocks until ctx is done and then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	a.logger.Info(context.Background(), "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Shutdown stops every component in reverse start order.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	a.shutdownOnce.Do(func() {
		a.watcherMu.Lock()
		if a.watcher != nil {
			if err := a.watcher.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		a.watcherMu.Unlock()

		if a.bridge != nil {
			if err := a.bridge.Shutdown(ctx); err != nil {
				errs = append(errs, errors.WrapInternal(err, errors.ErrCodeShutdown, "frontend bridge shutdown"))
			}
		}
		if err := a.ingress.Shutdown(ctx); err != nil {
			errs = append(errs, errors.WrapInternal(err, errors.ErrCodeShutdown, "update ingress shutdown"))
		}

		a.notifier.Wait()
		a.bus.Close()
	})

	return stderrors.Join(errs...)
}

// IngressErr returns the ingress startup diagnostic, if any.
func (a *App) IngressErr() error { return a.ingressErr }

// IngressAddr returns the ingress address.
func (a *App) IngressAddr() string { return a.ingress.Addr() }

// BridgeAddr returns the frontend bridge address, or "" when disabled.
func (a *App) BridgeAddr() string {
	if a.bridge == nil {
		return ""
	}
	return a.bridge.Addr()
}

// Bus returns the event bus.
func (a *App) Bus() *eventbus.Bus { return a.bus }

// Preamble returns the preamble store.
func (a *App) Preamble() *preamble.Store { return a.preamble }

// Renderer returns the render pipeline.
func (a *App) Renderer() *renderer.Renderer { return a.renderer }

// Metrics returns the metrics registry.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }
