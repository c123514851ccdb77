// Package remote runs models hosted by an HTTP inference sidecar, optionally spawned and
// supervised by this process.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ekisa-team/audiogen/internal/audio"
	"github.com/ekisa-team/audiogen/internal/backend"
)

const unloadTimeout = 10 * time.Second

// Options configures the remote backend.
type Options struct {
	URL     string
	Timeout time.Duration

	// Server, when set, is spawned through Manager before the first load.
	Server  *backend.ServerConfig
	Manager *backend.ServerManager
}

// Backend implements backend.Backend over HTTPClient.
type Backend struct {
	client  *HTTPClient
	opts    Options
	started bool
	mu      sync.Mutex
}

// NewBackend creates a remote backend. No connection is made until Load.
func NewBackend(opts Options) *Backend {
	if opts.Server != nil && opts.Manager == nil {
		opts.Manager = backend.NewServerManager()
	}

	return &Backend{
		client: NewHTTPClient(opts.URL, opts.Timeout),
		opts:   opts,
	}
}

// Provider returns the backend identifier.
func (b *Backend) Provider() backend.Provider {
	return backend.ProviderRemote
}

// Load makes sure the sidecar is up and asks it to load the model.
func (b *Backend) Load(ctx context.Context, spec backend.LoadSpec) (backend.Model, error) {
	if err := b.ensureServer(ctx); err != nil {
		return nil, err
	}

	if err := b.client.HealthCheck(ctx); err != nil {
		return nil, err
	}

	resp, err := b.client.Load(ctx, LoadRequest{Task: spec.Task, Model: spec.ModelRef(), Device: spec.Device})
	if err != nil {
		return nil, fmt.Errorf("remote: load %s: %w", spec.ModelName, err)
	}

	rate := resp.SampleRate
	if spec.SampleRate > 0 {
		rate = spec.SampleRate
	}

	slog.Debug("Remote model loaded", "model", spec.ModelName, "model_id", resp.ModelID, "url", b.client.BaseURL())

	return &Model{
		client:     b.client,
		id:         resp.ModelID,
		sampleRate: rate,
		params:     backend.ParamsFromMap(spec.Parameters, backend.DefaultGenerationParams()),
	}, nil
}

func (b *Backend) ensureServer(ctx context.Context) error {
	if b.opts.Server == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	srv, err := b.opts.Manager.StartServer(ctx, *b.opts.Server)
	if err != nil {
		return err
	}
	if b.opts.URL == "" {
		b.client = NewHTTPClient(srv.BaseURL, b.opts.Timeout)
	}
	b.started = true

	return nil
}

// Close stops the sidecar if this backend spawned it.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		b.started = false
		return b.opts.Manager.StopServer(b.opts.Server.Name, b.opts.Server.Port)
	}
	return nil
}

// Model is a model resident in the sidecar.
type Model struct {
	client     *HTTPClient
	id         string
	sampleRate int
	params     backend.GenerationParams
}

// SampleRate returns the model's output rate.
func (m *Model) SampleRate() int {
	return m.sampleRate
}

// SetGenerationParams configures the next Generate call.
func (m *Model) SetGenerationParams(params backend.GenerationParams) {
	m.params = params
}

// Generate requests one clip per description.
func (m *Model) Generate(ctx context.Context, descriptions []string) ([]*audio.Waveform, error) {
	out := make([]*audio.Waveform, 0, len(descriptions))
	for _, description := range descriptions {
		data, err := m.client.Generate(ctx, GenerateRequest{ModelID: m.id, Description: description, Params: m.params.ToMap()})
		if err != nil {
			return nil, err
		}

		wave, err := audio.DecodeWAV(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", backend.ErrEngine, err)
		}
		out = append(out, wave)
	}
	return out, nil
}

// Close unloads the model from the sidecar.
func (m *Model) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()

	return m.client.Unload(ctx, m.id)
}
