package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ekisa-team/audiogen/internal/backend"
	"github.com/ekisa-team/audiogen/internal/config"
	"github.com/ekisa-team/audiogen/internal/config/source"
)

// DownloaderFunc returns the downloader for a weight source.
type DownloaderFunc func(ctx context.Context, sourceType config.SourceType) (source.Downloader, error)

// StatusFunc observes task status transitions.
type StatusFunc func(task Task, status Status)

// Option configures a Manager.
type Option func(*Manager)

// WithFailFast makes Initialize return the first load failure.
func WithFailFast(enabled bool) Option {
	return func(m *Manager) {
		m.failFast = enabled
	}
}

// WithDownloader replaces the weight downloader lookup.
func WithDownloader(fn DownloaderFunc) Option {
	return func(m *Manager) {
		m.downloader = fn
	}
}

// WithStatusObserver registers fn to be called on every status change.
func WithStatusObserver(fn StatusFunc) Option {
	return func(m *Manager) {
		m.onStatus = fn
	}
}

// Manager loads every configured task once at startup and releases them at shutdown.
type Manager struct {
	backends   *backend.Registry
	registry   *Registry
	downloader DownloaderFunc
	onStatus   StatusFunc
	failFast   bool
	mu         sync.Mutex
}

// NewManager creates a Manager loading models through backends.
func NewManager(backends *backend.Registry, opts ...Option) *Manager {
	m := &Manager{
		backends:   backends,
		registry:   NewRegistry(),
		downloader: source.GetDownloader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the model registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Initialize loads every enabled task in cfg. A task that fails to load is recorded as
// failed and skipped, leaving the service degraded, unless fail-fast is on.
func (m *Manager) Initialize(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, task := range Tasks() {
		mc, ok := cfg.Models[string(task)]
		if !ok || !mc.IsEnabled() {
			slog.Info("Task disabled, skipping model load", "task", task)
			continue
		}

		if _, loaded := m.registry.Get(task); loaded {
			continue
		}

		status := TaskStatus{Task: task, Model: mc.Model, Device: mc.Device, Backend: mc.Backend}
		m.setStatus(status, StatusLoading, nil)

		start := time.Now()
		handle, err := m.load(ctx, task, mc, cfg.ModelsDir())
		if err != nil {
			m.setStatus(status, StatusFailed, err)
			slog.Error("Failed to load model, task unavailable",
				"task", task, "model", mc.Model, "device", mc.Device, "backend", mc.Backend, "error", err)

			err = fmt.Errorf("%w: %s: %w", ErrLoadFailed, task, err)
			if m.failFast {
				return err
			}
			errs = append(errs, err)
			continue
		}

		m.registry.Set(handle)
		m.notify(task, StatusLoaded)
		slog.Info("Model loaded", "task", task, "model", mc.Model, "device", mc.Device,
			"backend", mc.Backend, "sample_rate", handle.SampleRate(), "elapsed", time.Since(start))
	}

	if len(errs) > 0 {
		slog.Warn("Service starting degraded", "failed_tasks", len(errs))
	}
	return nil
}

func (m *Manager) load(ctx context.Context, task Task, mc config.ModelConfig, modelsDir string) (*Handle, error) {
	b, err := m.backends.MustGet(backend.Provider(mc.Backend))
	if err != nil {
		return nil, err
	}

	spec := backend.LoadSpec{
		Task:       string(task),
		ModelName:  mc.Model,
		Device:     mc.Device,
		SampleRate: mc.SampleRate,
		Parameters: mc.Params,
	}

	if mc.Source.HuggingFace != nil {
		path, err := m.prefetch(ctx, b, mc, modelsDir)
		if err != nil {
			return nil, err
		}
		spec.ModelPath = path
	}

	loaded, err := b.Load(ctx, spec)
	if err != nil {
		return nil, err
	}

	params := backend.ParamsFromMap(mc.Params, backend.DefaultGenerationParams())
	return NewHandle(task, mc.Model, mc.Device, b.Provider(), loaded, params), nil
}

// prefetch downloads weights into modelsDir and lets the backend locate the model inside.
func (m *Manager) prefetch(ctx context.Context, b backend.Backend, mc config.ModelConfig, modelsDir string) (string, error) {
	modelSource, err := mc.GetSource()
	if err != nil {
		return "", err
	}

	if err := source.EnsureModelsDirectory(modelsDir); err != nil {
		return "", fmt.Errorf("failed to prepare models directory %s: %w", modelsDir, err)
	}

	downloader, err := m.downloader(ctx, modelSource.Type())
	if err != nil {
		return "", err
	}

	path, _, err := downloader.Download(ctx, &mc, modelsDir)
	if err != nil {
		return "", err
	}

	if locator, ok := b.(backend.ModelLocator); ok {
		return locator.ResolveModelPath(path)
	}
	return path, nil
}

// Shutdown closes and clears every handle. Statuses stay for reporting.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, h := range m.registry.Clear() {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s model: %w", h.Task, err))
		}
		m.notify(h.Task, StatusUnloaded)
		slog.Info("Model unloaded", "task", h.Task, "model", h.ModelName)
	}

	return errors.Join(errs...)
}

func (m *Manager) setStatus(st TaskStatus, status Status, err error) {
	st.Status = status
	st.Error = ""
	if err != nil {
		st.Error = err.Error()
	}
	m.registry.SetStatus(st)
	m.notify(st.Task, status)
}

func (m *Manager) notify(task Task, status Status) {
	if m.onStatus != nil {
		m.onStatus(task, status)
	}
}
