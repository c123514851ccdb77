package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ekisa-team/audiogen/internal/backend"
	"github.com/ekisa-team/audiogen/internal/backend/audiocraft"
	"github.com/ekisa-team/audiogen/internal/backend/remote"
	"github.com/ekisa-team/audiogen/internal/backend/rpc"
	"github.com/ekisa-team/audiogen/internal/config"
)

const remoteServerName = "audiogen-remote"

// unavailableBackend fails every Load with the error that prevented constructing the
// provider.
type unavailableBackend struct {
	provider backend.Provider
	err      error
}

func (b *unavailableBackend) Provider() backend.Provider { return b.provider }

func (b *unavailableBackend) Load(context.Context, backend.LoadSpec) (backend.Model, error) {
	return nil, fmt.Errorf("%s backend unavailable: %w", b.provider, b.err)
}

func (b *unavailableBackend) Close() error { return nil }

// newBackends registers one backend per provider referenced by an enabled model.
func newBackends(cfg *config.Config) *backend.Registry {
	registry := backend.NewRegistry()

	for _, provider := range usedProviders(cfg) {
		b, err := newBackend(provider, cfg.Backends)
		if err != nil {
			slog.Error("Failed to create backend", "backend", provider, "error", err)
			b = &unavailableBackend{provider: provider, err: err}
		}
		if err := registry.Register(b); err != nil {
			slog.Warn("Backend registered twice", "backend", provider, "error", err)
		}
	}

	return registry
}

func newBackend(provider backend.Provider, cfg config.BackendsConfig) (backend.Backend, error) {
	switch provider {
	case backend.ProviderAudiocraft:
		return audiocraft.NewBackend(cfg.Audiocraft.Bin, cfg.Audiocraft.Timeout)

	case backend.ProviderRemote:
		opts := remote.Options{URL: cfg.Remote.URL, Timeout: cfg.Remote.Timeout}
		if srv := cfg.Remote.Server; srv != nil {
			opts.URL = ""
			opts.Server = &backend.ServerConfig{
				Name:         remoteServerName,
				BinPath:      srv.Bin,
				Host:         "127.0.0.1",
				HealthPath:   "/health",
				Args:         srv.Args,
				Env:          srv.Env,
				Port:         srv.Port,
				ReadyTimeout: srv.ReadyTimeout,
			}
		}
		return remote.NewBackend(opts), nil

	case backend.ProviderGRPC:
		return rpc.NewBackend(cfg.GRPC.Address, cfg.GRPC.Timeout)

	default:
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, provider)
	}
}

func usedProviders(cfg *config.Config) []backend.Provider {
	seen := make(map[backend.Provider]bool)
	var out []backend.Provider
	for _, task := range []string{config.TaskMusic, config.TaskSFX} {
		mc, ok := cfg.Models[task]
		if !ok || !mc.IsEnabled() {
			continue
		}
		p := backend.Provider(mc.Backend)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
