package backend

import (
	"context"

	"github.com/ekisa-team/audiogen/internal/audio"
)

// Model is a model loaded in an inference engine.
// Implementations are not required to be safe for concurrent use: callers serialize
// SetGenerationParams and Generate.
type Model interface {
	// SampleRate returns the rate of every waveform the model produces.
	SampleRate() int

	// SetGenerationParams configures the next Generate call.
	SetGenerationParams(params GenerationParams)

	// Generate produces one waveform per description.
	Generate(ctx context.Context, descriptions []string) ([]*audio.Waveform, error)

	// Close releases the model in the engine.
	Close() error
}

// ModelLocator is an optional interface for backends that can locate
// the actual model to load inside a prefetched weights directory.
type ModelLocator interface {
	// ResolveModelPath resolves the real model path inside the base downloaded directory.
	ResolveModelPath(basePath string) (string, error)
}
