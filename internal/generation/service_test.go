package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/audiogen/internal/artifact"
	"github.com/ekisa-team/audiogen/internal/audio"
	"github.com/ekisa-team/audiogen/internal/backend"
	"github.com/ekisa-team/audiogen/internal/metrics"
	"github.com/ekisa-team/audiogen/internal/model"
)

// --- Mock types ---

type MockModel struct {
	mock.Mock
	rate int
}

func (m *MockModel) SampleRate() int { return m.rate }

func (m *MockModel) SetGenerationParams(p backend.GenerationParams) {
	m.Called(p.Duration)
}

func (m *MockModel) Generate(ctx context.Context, prompts []string) ([]*audio.Waveform, error) {
	args := m.Called(ctx, prompts)
	if waves, ok := args.Get(0).([]*audio.Waveform); ok {
		return waves, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockModel) Close() error { return nil }

type panicModel struct{ MockModel }

func (p *panicModel) Generate(context.Context, []string) ([]*audio.Waveform, error) {
	panic("index out of range")
}

func clip(rate int, seconds float64) []*audio.Waveform {
	n := int(float64(rate) * seconds)
	ch := make([]float64, n)
	for i := range ch {
		ch[i] = 0.2 * math.Sin(2*math.Pi*220*float64(i)/float64(rate))
	}
	return []*audio.Waveform{audio.NewWaveform(rate, ch)}
}

type fixture struct {
	registry *model.Registry
	store    *artifact.Store
	metrics  *metrics.Metrics
	logs     *bytes.Buffer
	service  *Service
}

func newFixture(t *testing.T, models map[model.Task]backend.Model) *fixture {
	t.Helper()

	reg := model.NewRegistry()
	for task, m := range models {
		reg.Set(model.NewHandle(task, "test/"+string(task), "cpu", backend.ProviderAudiocraft, m, backend.DefaultGenerationParams()))
	}

	store, err := artifact.NewStore(t.TempDir(), "/audio_files")
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	m := metrics.New("test")
	svc := NewService(reg, store, WithMetrics(m), WithLogger(slog.New(slog.NewJSONHandler(logs, nil))))

	return &fixture{registry: reg, store: store, metrics: m, logs: logs, service: svc}
}

// --- Tests ---

func TestService_GenerateMusic(t *testing.T) {
	mm := &MockModel{rate: 32000}
	mm.On("SetGenerationParams", 8.0).Once()
	mm.On("Generate", mock.Anything, []string{"calm piano melody"}).Return(clip(32000, 8), nil).Once()

	f := newFixture(t, map[model.Task]backend.Model{model.TaskMusic: mm})
	res, err := f.service.Generate(context.Background(), Request{Task: model.TaskMusic, Prompt: "calm piano melody", Duration: 8})
	require.NoError(t, err)

	assert.Equal(t, "calm piano melody", res.Prompt)
	assert.Equal(t, 8, res.Duration)
	assert.Regexp(t, `^/audio_files/music_[0-9a-f]{32}\.wav$`, res.Artifact.URL)
	assert.InDelta(t, 8.0, res.Artifact.DurationSeconds, 1e-9)
	assert.Equal(t, 32000, res.Artifact.SampleRate)

	file, err := os.Open(res.Artifact.Path)
	require.NoError(t, err)
	defer file.Close()
	wave, err := audio.DecodeWAV(file)
	require.NoError(t, err)
	assert.Equal(t, 32000, wave.SampleRate)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GenerationsTotal.WithLabelValues("music", "success")))
	mm.AssertExpectations(t)
}

func TestService_ModelUnavailableNeverInvokesInference(t *testing.T) {
	mm := &MockModel{rate: 32000}
	f := newFixture(t, map[model.Task]backend.Model{model.TaskMusic: mm})

	_, err := f.service.Generate(context.Background(), Request{Task: model.TaskSFX, Prompt: "dog barking", Duration: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, StageValidated, genErr.Stage)
	assert.Contains(t, genErr.Message, "Sound effect generation model not available")

	mm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	assert.Contains(t, f.logs.String(), `"prompt":"dog barking"`)
	assert.Contains(t, f.logs.String(), `"stage":"validated"`)
}

func TestService_ClosedModelIsUnavailable(t *testing.T) {
	mm := &MockModel{rate: 32000}
	f := newFixture(t, map[model.Task]backend.Model{model.TaskMusic: mm})

	handle, ok := f.registry.Get(model.TaskMusic)
	require.True(t, ok)
	require.NoError(t, handle.Close())

	_, err := f.service.Generate(context.Background(), Request{Task: model.TaskMusic, Prompt: "calm piano melody", Duration: 8})
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, backend.ErrModelClosed)
	assert.NotErrorIs(t, err, ErrGenerationFailed)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, KindModelUnavailable, genErr.Kind)
	assert.Equal(t, StageModelInvoked, genErr.Stage)
	assert.Contains(t, genErr.Message, "Music generation model not available")

	mm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GenerationsTotal.WithLabelValues("music", "model_unavailable")))
}

func TestService_InvalidRequest(t *testing.T) {
	mm := &MockModel{rate: 32000}
	f := newFixture(t, map[model.Task]backend.Model{model.TaskMusic: mm})

	for _, req := range []Request{
		{Task: model.TaskMusic, Prompt: "   ", Duration: 8},
		{Task: model.TaskMusic, Prompt: "ok", Duration: 0},
		{Task: model.TaskMusic, Prompt: "ok", Duration: 31},
		{Task: model.TaskSFX, Prompt: "ok", Duration: 16},
		{Task: "speech", Prompt: "ok", Duration: 1},
	} {
		_, err := f.service.Generate(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "%+v", req)
	}
	mm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestService_OutOfMemory(t *testing.T) {
	mm := &MockModel{rate: 32000}
	mm.On("SetGenerationParams", 30.0)
	mm.On("Generate", mock.Anything, mock.Anything).Return(nil, backend.EngineFailure("CUDA out of memory. Tried to allocate 4 GiB"))

	f := newFixture(t, map[model.Task]backend.Model{model.TaskMusic: mm})
	_, err := f.service.Generate(context.Background(), Request{Task: model.TaskMusic, Prompt: "full orchestra", Duration: 30})
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.ErrorIs(t, err, backend.ErrOutOfMemory)
	assert.EqualError(t, err, "CUDA out of memory. Try a shorter duration or a less demanding prompt.")

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, StageModelInvoked, genErr.Stage)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GenerationsTotal.WithLabelValues("music", "resource_exhausted")))
}

func TestService_EngineAndUnexpectedErrors(t *testing.T) {
	mm := &MockModel{rate: 16000}
	mm.On("SetGenerationParams", mock.Anything)
	mm.On("Generate", mock.Anything, []string{"engine"}).Return(nil, backend.EngineFailure("RuntimeError: bad tensor"))
	mm.On("Generate", mock.Anything, []string{"other"}).Return(nil, errors.New("connection reset"))
	mm.On("Generate", mock.Anything, []string{"empty"}).Return([]*audio.Waveform{}, nil)

	f := newFixture(t, map[model.Task]backend.Model{model.TaskSFX: mm})

	_, err := f.service.Generate(context.Background(), Request{Task: model.TaskSFX, Prompt: "engine", Duration: 5})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorContains(t, err, "Runtime error during sound effect generation")
	assert.ErrorContains(t, err, "bad tensor")

	_, err = f.service.Generate(context.Background(), Request{Task: model.TaskSFX, Prompt: "other", Duration: 5})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.EqualError(t, err, "An unexpected error occurred: connection reset")

	_, err = f.service.Generate(context.Background(), Request{Task: model.TaskSFX, Prompt: "empty", Duration: 5})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestService_PanicIsRecovered(t *testing.T) {
	pm := &panicModel{MockModel{rate: 16000}}
	pm.On("SetGenerationParams", mock.Anything)

	f := newFixture(t, map[model.Task]backend.Model{model.TaskSFX: pm})

	var err error
	assert.NotPanics(t, func() {
		_, err = f.service.Generate(context.Background(), Request{Task: model.TaskSFX, Prompt: "rain", Duration: 3})
	})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorContains(t, err, "index out of range")
}

func TestService_ConcurrentRequestsGetUniqueFiles(t *testing.T) {
	mm := &MockModel{rate: 16000}
	mm.On("SetGenerationParams", mock.Anything)
	mm.On("Generate", mock.Anything, mock.Anything).Return(clip(16000, 0.2), nil)

	f := newFixture(t, map[model.Task]backend.Model{model.TaskSFX: mm})

	const n = 10
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.service.Generate(context.Background(), Request{Task: model.TaskSFX, Prompt: fmt.Sprintf("door %d", i), Duration: 1})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[res.Artifact.Filename])
			seen[res.Artifact.Filename] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("cause")
	err := error(&Error{Kind: KindResourceExhausted, Message: "m", Err: cause})
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrModelUnavailable)
}
