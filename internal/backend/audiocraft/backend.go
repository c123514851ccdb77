// Package audiocraft runs MusicGen and AudioGen models inside a resident audiocraft worker process.
//
// Load starts one worker per model:
//
//	<bin> serve --model M --device D
//
// The worker loads the weights once and prints a ready line, {"sample_rate": N}, on stdout.
// Each generation is one JSON request line on stdin:
//
//	{"description": P, "output": FILE, "duration": N, "top_k": ..., "use_sampling": true}
//
// answered by one JSON line, {"ok": true} once the WAV is written to FILE, or
// {"error": MSG, "error_code": "out_of_memory"}. Stdout lines that are not JSON objects are
// ignored. A worker that dies is restarted on the next Generate call.
package audiocraft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekisa-team/audiogen/internal/audio"
	"github.com/ekisa-team/audiogen/internal/backend"
)

// stopGrace is how long a worker has to exit after its stdin is closed.
const stopGrace = 10 * time.Second

var (
	ErrNoWeights    = errors.New("audiocraft: directory has no state_dict.bin")
	ErrNoSampleRate = errors.New("audiocraft: worker reported no sample rate")
	weightsMarkers  = []string{"state_dict.bin", "compression_state_dict.bin"}
)

// Backend implements backend.Backend for the audiocraft worker.
type Backend struct {
	executor *backend.Executor
	tempDir  string
}

// NewBackend creates a new audiocraft backend running binPath with a per-call timeout.
func NewBackend(binPath string, timeout time.Duration) (*Backend, error) {
	executor, err := backend.NewExecutor(binPath, timeout)
	if err != nil {
		return nil, err
	}

	return NewBackendWithExecutor(executor, os.TempDir()), nil
}

// NewBackendWithExecutor creates a backend over an existing executor.
func NewBackendWithExecutor(executor *backend.Executor, tempDir string) *Backend {
	return &Backend{
		executor: executor,
		tempDir:  tempDir,
	}
}

// Provider returns the backend identifier.
func (b *Backend) Provider() backend.Provider {
	return backend.ProviderAudiocraft
}

// Load starts a worker and waits until it has the model resident. ctx bounds the wait.
func (b *Backend) Load(ctx context.Context, spec backend.LoadSpec) (backend.Model, error) {
	w, reported, err := b.spawn(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("audiocraft: load %s: %w", spec.ModelName, err)
	}

	rate := reported
	if spec.SampleRate > 0 {
		rate = spec.SampleRate
	}
	if rate <= 0 {
		w.kill()
		return nil, ErrNoSampleRate
	}

	slog.Debug("Audiocraft worker ready", "model", spec.ModelName, "device", spec.Device, "sample_rate", rate)

	return &Model{
		backend:    b,
		spec:       spec,
		sampleRate: rate,
		params:     backend.ParamsFromMap(spec.Parameters, backend.DefaultGenerationParams()),
		worker:     w,
	}, nil
}

// spawn starts a worker and reads its ready line.
func (b *Backend) spawn(ctx context.Context, spec backend.LoadSpec) (*worker, int, error) {
	w, err := startWorker(b.executor, serveArgs(spec))
	if err != nil {
		return nil, 0, err
	}

	resp, err := w.next(ctx)
	if err != nil {
		w.kill()
		return nil, 0, w.failure(ctx, err)
	}
	if err := resp.err(); err != nil {
		w.kill()
		return nil, 0, err
	}

	return w, resp.SampleRate, nil
}

// ResolveModelPath checks a prefetched directory holds audiocraft weights.
func (b *Backend) ResolveModelPath(basePath string) (string, error) {
	for _, name := range weightsMarkers {
		if _, err := os.Stat(filepath.Join(basePath, name)); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNoWeights, basePath)
		}
	}
	return basePath, nil
}

// Close is a no-op. Each Model owns and stops its worker.
func (b *Backend) Close() error {
	return nil
}

// Model is one audiocraft model held by a resident worker.
type Model struct {
	backend    *Backend
	spec       backend.LoadSpec
	sampleRate int
	params     backend.GenerationParams

	mu     sync.Mutex
	worker *worker
	closed bool
}

// SampleRate returns the model's output rate.
func (m *Model) SampleRate() int {
	return m.sampleRate
}

// SetGenerationParams configures the next Generate call.
func (m *Model) SetGenerationParams(params backend.GenerationParams) {
	m.params = params
}

// Generate sends one request per description to the worker.
func (m *Model) Generate(ctx context.Context, descriptions []string) ([]*audio.Waveform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, backend.ErrModelClosed
	}

	if timeout := m.backend.executor.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := make([]*audio.Waveform, 0, len(descriptions))
	for _, description := range descriptions {
		wave, err := m.generateOne(ctx, description)
		if err != nil {
			return nil, err
		}
		out = append(out, wave)
	}
	return out, nil
}

func (m *Model) generateOne(ctx context.Context, description string) (*audio.Waveform, error) {
	if m.worker == nil || m.worker.exited() {
		slog.Warn("Audiocraft worker not running, restarting", "model", m.spec.ModelName)
		w, _, err := m.backend.spawn(ctx, m.spec)
		if err != nil {
			return nil, err
		}
		m.worker = w
	}

	// The worker writes to a file, so a temp file is used and read back.
	outputFile := filepath.Join(m.backend.tempDir, fmt.Sprintf("audiocraft_%s.wav", uuid.NewString()))
	defer os.Remove(outputFile)

	w := m.worker
	resp, err := w.call(ctx, m.newRequest(description, outputFile))
	if err != nil {
		// A worker that missed its reply is out of step with the protocol.
		w.kill()
		m.worker = nil
		return nil, w.failure(ctx, err)
	}
	if err := resp.err(); err != nil {
		return nil, err
	}

	f, err := os.Open(outputFile)
	if err != nil {
		return nil, fmt.Errorf("%w: no output written: %v", backend.ErrEngine, err)
	}
	defer f.Close()

	wave, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrEngine, err)
	}

	return wave, nil
}

// Close stops the worker, releasing the model's memory.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.worker == nil {
		return nil
	}
	w := m.worker
	m.worker = nil
	return w.stop(stopGrace)
}

func (m *Model) newRequest(description, outputFile string) request {
	p := m.params
	return request{
		Description: description,
		Output:      outputFile,
		Duration:    p.Duration,
		TopK:        p.TopK,
		TopP:        p.TopP,
		Temperature: p.Temperature,
		CFGCoef:     p.CFGCoef,
		UseSampling: p.UseSampling,
	}
}

func serveArgs(spec backend.LoadSpec) []string {
	return []string{"serve", "--model", spec.ModelRef(), "--device", spec.Device}
}
