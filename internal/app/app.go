// Package app wires configuration, models, storage and the HTTP server together and
// owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	nethttp "net/http"
	"sync"

	"github.com/ekisa-team/audiogen/internal/artifact"
	"github.com/ekisa-team/audiogen/internal/audio"
	"github.com/ekisa-team/audiogen/internal/backend"
	"github.com/ekisa-team/audiogen/internal/config"
	"github.com/ekisa-team/audiogen/internal/env"
	"github.com/ekisa-team/audiogen/internal/generation"
	"github.com/ekisa-team/audiogen/internal/metrics"
	"github.com/ekisa-team/audiogen/internal/model"
	"github.com/ekisa-team/audiogen/internal/server/http"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "audiogen"

// ErrNotInitialized is returned by operations that need Initialize to have succeeded.
var ErrNotInitialized = errors.New("app: not initialized")

// OptionFunc configures an App.
type OptionFunc func(app *App)

// WithLogger sets the logger handed to the service and the HTTP server.
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(app *App) {
		app.logger = logger
	}
}

// WithEnvironment sets the environment the HTTP server runs in.
func WithEnvironment(environment env.Environment) OptionFunc {
	return func(app *App) {
		app.environment = environment
	}
}

// WithBackends replaces the backends built from configuration.
func WithBackends(backends *backend.Registry) OptionFunc {
	return func(app *App) {
		app.backends = backends
	}
}

// WithMetrics replaces the metrics collectors.
func WithMetrics(m *metrics.Metrics) OptionFunc {
	return func(app *App) {
		app.metrics = m
	}
}

// WithoutIndex disables watching the artifact directory.
func WithoutIndex() OptionFunc {
	return func(app *App) {
		app.noIndex = true
	}
}

// App owns every long-lived component of the service.
type App struct {
	config      *config.Config
	logger      *slog.Logger
	environment env.Environment
	noIndex     bool

	backends *backend.Registry
	manager  *model.Manager
	store    *artifact.Store
	index    *artifact.Index
	metrics  *metrics.Metrics
	service  *generation.Service
	server   *http.Server

	initialized bool
	mu          sync.Mutex
}

// New creates an App for cfg. Nothing is loaded until Initialize.
func New(cfg *config.Config, opts ...OptionFunc) *App {
	app := &App{
		config:      cfg,
		logger:      slog.Default(),
		environment: env.FromEnv(),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Initialize prepares the artifact store, loads every configured model and builds the
// HTTP server. Model load failures leave the app degraded unless startup.fail_fast is set.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}

	cfg := a.config
	store, err := artifact.NewStore(cfg.Artifacts.Dir, cfg.Artifacts.URLPrefix)
	if err != nil {
		return err
	}
	a.store = store

	if a.metrics == nil {
		a.metrics = metrics.New(MetricsNamespace)
	}

	if !a.noIndex {
		index, err := artifact.NewIndex(store.Dir(), a.metrics.SetArtifactCount)
		if err != nil {
			return err
		}
		a.index = index
	}

	if a.backends == nil {
		a.backends = newBackends(cfg)
	}

	a.manager = model.NewManager(a.backends,
		model.WithFailFast(cfg.Startup.FailFast),
		model.WithStatusObserver(func(task model.Task, status model.Status) {
			a.metrics.SetModelStatus(string(task), string(status))
		}),
	)
	if err := a.manager.Initialize(ctx, cfg); err != nil {
		return errors.Join(err, a.release())
	}

	a.service = generation.NewService(a.manager.Registry(), store,
		generation.WithStrategy(audio.Strategy{HeadroomDB: cfg.Encoding.HeadroomDB, Compressor: cfg.Encoding.Compressor}),
		generation.WithMetrics(a.metrics),
		generation.WithLogger(a.logger),
	)

	a.server, err = http.NewServer(cfg.Server, a.environment, http.Dependencies{
		Generator:       a.service,
		Statuses:        a.manager.Registry(),
		Metrics:         a.metrics,
		Logger:          a.logger,
		ArtifactsDir:    store.Dir(),
		ArtifactsPrefix: store.URLPrefix(),
	})
	if err != nil {
		return errors.Join(err, a.release())
	}

	a.initialized = true
	a.logger.Info("Application initialized",
		"models_loaded", a.manager.Registry().AllLoaded(), "artifacts_dir", store.Dir())
	return nil
}

// Run serves HTTP until ctx is cancelled or the listener fails, then stops the server.
func (a *App) Run(ctx context.Context) error {
	srv, err := a.httpServer()
	if err != nil {
		return err
	}
	return a.serve(ctx, srv.Start)
}

// RunListener is Run on an existing listener.
func (a *App) RunListener(ctx context.Context, l net.Listener) error {
	srv, err := a.httpServer()
	if err != nil {
		return err
	}
	return a.serve(ctx, func() error { return srv.Serve(l) })
}

func (a *App) serve(ctx context.Context, start func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		if err := a.server.Stop(context.Background()); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return <-errCh
	}
}

// Shutdown unloads every model and releases backends and watchers. The HTTP server must
// already be stopped, which Run does on return.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil
	}
	a.initialized = false
	return a.release()
}

func (a *App) release() error {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Shutdown())
	}
	if a.backends != nil {
		errs = append(errs, a.backends.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
		a.index = nil
	}
	a.logger.Info("Application shut down")
	return errors.Join(errs...)
}

// Service returns the generation service.
func (a *App) Service() (*generation.Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, ErrNotInitialized
	}
	return a.service, nil
}

// Registry returns the loaded models and their status.
func (a *App) Registry() (*model.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, ErrNotInitialized
	}
	return a.manager.Registry(), nil
}

// Handler returns the HTTP handler without starting a listener.
func (a *App) Handler() (nethttp.Handler, error) {
	srv, err := a.httpServer()
	if err != nil {
		return nil, err
	}
	return srv.Handler(), nil
}

func (a *App) httpServer() (*http.Server, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, ErrNotInitialized
	}
	return a.server, nil
}
