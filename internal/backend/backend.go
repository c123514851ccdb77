package backend

import (
	"context"

	"github.com/ekisa-team/audiogen/internal/mapsafe"
)

// Provider is a string identifier for an inference backend.
type Provider string

const (
	ProviderAudiocraft Provider = "audiocraft"
	ProviderRemote     Provider = "remote"
	ProviderGRPC       Provider = "grpc"
)

// Backend defines the core interface for all inference backends.
type Backend interface {
	// Provider returns the backend identifier.
	Provider() Provider

	// Load prepares a model in the engine and returns a handle to it.
	Load(ctx context.Context, spec LoadSpec) (Model, error)

	// Close cleans up resources.
	Close() error
}

// LoadSpec describes the model a backend should load.
type LoadSpec struct {
	// Task is the task the model serves (music, sfx).
	Task string

	// ModelName is the pretrained model identifier, e.g. facebook/musicgen-small.
	ModelName string

	// ModelPath is the local weights directory when weights were prefetched.
	ModelPath string

	// Device is the compute device (cpu, cuda, cuda:1, mps).
	Device string

	// SampleRate overrides the rate reported by the engine when non-zero.
	SampleRate int

	// Parameters contains the default generation parameters for this model.
	Parameters map[string]any
}

// ModelRef returns what the engine should load: the local path if present, else the name.
func (s LoadSpec) ModelRef() string {
	if s.ModelPath != "" {
		return s.ModelPath
	}
	return s.ModelName
}

// GenerationParams are the sampling settings applied to the next Generate call.
type GenerationParams struct {
	Duration    float64 `json:"duration"`
	UseSampling bool    `json:"use_sampling"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	Temperature float64 `json:"temperature"`
	CFGCoef     float64 `json:"cfg_coef"`
}

// DefaultGenerationParams mirrors the audiocraft defaults.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Duration:    8,
		UseSampling: true,
		TopK:        250,
		TopP:        0,
		Temperature: 1.0,
		CFGCoef:     3.0,
	}
}

// ParamsFromMap reads generation parameters from a config map over base.
func ParamsFromMap(m map[string]any, base GenerationParams) GenerationParams {
	return GenerationParams{
		Duration:    mapsafe.Get(m, "duration", base.Duration),
		UseSampling: mapsafe.Get(m, "use_sampling", base.UseSampling),
		TopK:        mapsafe.Get(m, "top_k", base.TopK),
		TopP:        mapsafe.Get(m, "top_p", base.TopP),
		Temperature: mapsafe.Get(m, "temperature", base.Temperature),
		CFGCoef:     mapsafe.Get(m, "cfg_coef", base.CFGCoef),
	}
}

// WithDuration returns a copy with the target duration set.
func (p GenerationParams) WithDuration(seconds float64) GenerationParams {
	p.Duration = seconds
	return p
}

// ToMap renders the parameters for transports that take a JSON object.
func (p GenerationParams) ToMap() map[string]any {
	return map[string]any{
		"duration":     p.Duration,
		"use_sampling": p.UseSampling,
		"top_k":        p.TopK,
		"top_p":        p.TopP,
		"temperature":  p.Temperature,
		"cfg_coef":     p.CFGCoef,
	}
}
