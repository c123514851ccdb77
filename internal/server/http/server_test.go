package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/audiogen/internal/artifact"
	"github.com/ekisa-team/audiogen/internal/audio"
	"github.com/ekisa-team/audiogen/internal/backend"
	"github.com/ekisa-team/audiogen/internal/config"
	"github.com/ekisa-team/audiogen/internal/env"
	"github.com/ekisa-team/audiogen/internal/generation"
	"github.com/ekisa-team/audiogen/internal/metrics"
	"github.com/ekisa-team/audiogen/internal/model"
)

type fakeModel struct {
	rate int
	err  error
	// produced overrides the clip length in seconds. Zero produces the requested duration.
	produced float64

	mu        sync.Mutex
	duration  float64
	durations []float64
	prompts   [][]string
}

func (m *fakeModel) SampleRate() int { return m.rate }

func (m *fakeModel) SetGenerationParams(p backend.GenerationParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = p.Duration
	m.durations = append(m.durations, p.Duration)
}

func (m *fakeModel) Generate(_ context.Context, prompts []string) ([]*audio.Waveform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompts)
	if m.err != nil {
		return nil, m.err
	}

	seconds := m.duration
	if m.produced > 0 {
		seconds = m.produced
	}
	n := int(float64(m.rate) * seconds)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.3 * math.Sin(2*math.Pi*440*float64(i)/float64(m.rate))
	}
	return []*audio.Waveform{audio.NewWaveform(m.rate, samples)}, nil
}

func (m *fakeModel) Close() error { return nil }

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type testServer struct {
	handler  http.Handler
	registry *model.Registry
	metrics  *metrics.Metrics
}

func newTestServer(t *testing.T, models map[model.Task]*fakeModel) *testServer {
	t.Helper()

	reg := model.NewRegistry()
	for _, task := range model.Tasks() {
		m, ok := models[task]
		if !ok {
			reg.SetStatus(model.TaskStatus{Task: task, Model: "test/" + string(task), Status: model.StatusFailed, Error: "load failed"})
			continue
		}
		reg.Set(model.NewHandle(task, "test/"+string(task), "cpu", backend.ProviderAudiocraft, m, backend.DefaultGenerationParams()))
	}

	store, err := artifact.NewStore(t.TempDir(), "/audio_files")
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New("audiogen")
	svc := generation.NewService(reg, store, generation.WithMetrics(m), generation.WithLogger(log))

	srv, err := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, env.Test, Dependencies{
		Generator:       svc,
		Statuses:        reg,
		Metrics:         m,
		Logger:          log,
		ArtifactsDir:    store.Dir(),
		ArtifactsPrefix: store.URLPrefix(),
	})
	require.NoError(t, err)

	return &testServer{handler: srv.Handler(), registry: reg, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["message"], "audiogen")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestGenerateMusic_ServesReadableWAV(t *testing.T) {
	music := &fakeModel{rate: 32000}
	s := newTestServer(t, map[model.Task]*fakeModel{model.TaskMusic: music, model.TaskSFX: {rate: 16000}})

	w := s.do(t, http.MethodPost, "/generate_music/", `{"prompt":"calm piano melody","duration":8}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[MusicResponse](t, w)
	assert.Regexp(t, `^/audio_files/music_[0-9a-f]{32}\.wav$`, resp.AudioURL)
	assert.Equal(t, "calm piano melody", resp.PromptUsed)
	assert.InDelta(t, 8.0, resp.DurationGeneratedSeconds, 1e-9)
	assert.Equal(t, "Audio generated successfully", resp.Message)

	file := s.do(t, http.MethodGet, resp.AudioURL, "")
	require.Equal(t, http.StatusOK, file.Code)
	wave, err := audio.DecodeWAV(bytes.NewReader(file.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 32000, wave.SampleRate)
	assert.Equal(t, 8*32000, wave.NumSamples())

	assert.Equal(t, []float64{8}, music.durations)
	assert.Equal(t, [][]string{{"calm piano melody"}}, music.prompts)
}

func TestGenerateSFX_ResponseShape(t *testing.T) {
	s := newTestServer(t, map[model.Task]*fakeModel{model.TaskMusic: {rate: 32000}, model.TaskSFX: {rate: 16000}})

	w := s.do(t, http.MethodPost, "/generate_sfx/", `{"prompt":"dog barking","duration":3}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[SFXResponse](t, w)
	assert.Regexp(t, `^sfx_[0-9a-f]{32}\.wav$`, resp.Filename)
	assert.Equal(t, "/audio_files/"+resp.Filename, resp.AudioURL)
	assert.Equal(t, "dog barking", resp.Prompt)
	assert.InDelta(t, 3.0, resp.Duration, 1e-9)
}

func TestGenerate_DurationFieldsWhenClipLengthDiffers(t *testing.T) {
	s := newTestServer(t, map[model.Task]*fakeModel{
		model.TaskMusic: {rate: 8000, produced: 7.5},
		model.TaskSFX:   {rate: 8000, produced: 4.25},
	})

	w := s.do(t, http.MethodPost, "/generate_sfx/", `{"prompt":"door slam","duration":5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5.0, decode[SFXResponse](t, w).Duration, "sfx echoes the requested duration")

	w = s.do(t, http.MethodPost, "/generate_music/", `{"prompt":"jazz trio","duration":8}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.InDelta(t, 7.5, decode[MusicResponse](t, w).DurationGeneratedSeconds, 1e-9, "music reports the measured length")
}

func TestGenerate_DefaultDuration(t *testing.T) {
	music := &fakeModel{rate: 8000}
	sfx := &fakeModel{rate: 8000}
	s := newTestServer(t, map[model.Task]*fakeModel{model.TaskMusic: music, model.TaskSFX: sfx})

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/generate_music/", `{"prompt":"drums"}`).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/generate_sfx/", `{"prompt":"rain"}`).Code)

	assert.Equal(t, []float64{8}, music.durations)
	assert.Equal(t, []float64{5}, sfx.durations)
}

func TestGenerate_ValidationRejectsBeforeInference(t *testing.T) {
	music := &fakeModel{rate: 8000}
	sfx := &fakeModel{rate: 8000}
	s := newTestServer(t, map[model.Task]*fakeModel{model.TaskMusic: music, model.TaskSFX: sfx})

	tests := []struct {
		name string
		path string
		body string
		loc  []string
	}{
		{name: "empty prompt", path: "/generate_music/", body: `{"prompt":"","duration":8}`, loc: []string{"body", "prompt"}},
		{name: "blank prompt", path: "/generate_music/", body: `{"prompt":"   ","duration":8}`, loc: []string{"body", "prompt"}},
		{name: "missing prompt", path: "/generate_music/", body: `{"duration":8}`, loc: []string{"body"}},
		{name: "music duration too long", path: "/generate_music/", body: `{"prompt":"x","duration":45}`, loc: []string{"body", "duration"}},
		{name: "zero duration", path: "/generate_music/", body: `{"prompt":"x","duration":0}`, loc: []string{"body", "duration"}},
		{name: "negative duration", path: "/generate_sfx/", body: `{"prompt":"x","duration":-2}`, loc: []string{"body", "duration"}},
		{name: "fractional duration", path: "/generate_sfx/", body: `{"prompt":"x","duration":2.5}`, loc: []string{"body", "duration"}},
		{name: "sfx duration too long", path: "/generate_sfx/", body: `{"prompt":"x","duration":16}`, loc: []string{"body", "duration"}},
		{name: "prompt not a string", path: "/generate_sfx/", body: `{"prompt":42}`, loc: []string{"body", "prompt"}},
		{name: "not json", path: "/generate_sfx/", body: `prompt=x`, loc: []string{"body"}},
		{name: "array body", path: "/generate_music/", body: `[]`, loc: []string{"body"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

			var resp struct {
				Detail []FieldError `json:"detail"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotEmpty(t, resp.Detail)
			assert.Equal(t, tt.loc, resp.Detail[0].Loc)
			assert.NotEmpty(t, resp.Detail[0].Msg)
		})
	}

	assert.Zero(t, music.calls())
	assert.Zero(t, sfx.calls())
}

func TestGenerate_MaxDurationAccepted(t *testing.T) {
	s := newTestServer(t, map[model.Task]*fakeModel{model.TaskMusic: {rate: 100}, model.TaskSFX: {rate: 100}})

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/generate_music/", `{"prompt":"x","duration":30}`).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/generate_sfx/", `{"prompt":"x","duration":15}`).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/generate_sfx/", `{"prompt":"x","duration":1}`).Code)
}

func TestGenerate_SFXUnavailable(t *testing.T) {
	s := newTestServer(t, map[model.Task]*fakeModel{model.TaskMusic: {rate: 8000}})

	w := s.do(t, http.MethodPost, "/generate_sfx/", `{"prompt":"dog barking","duration":5}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t,
		"Sound effect generation model not available. Service might be starting up or encountered an error.",
		decode[ErrorResponse](t, w).Detail)

	h := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, h.Code)
	health := decode[HealthResponse](t, h)
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.ModelLoaded)
	assert.Contains(t, health.Message, "sfx")
	assert.True(t, health.Models["music"].Loaded)
	assert.False(t, health.Models["sfx"].Loaded)
	assert.Equal(t, model.StatusFailed, health.Models["sfx"].Status)
	assert.Equal(t, "load failed", health.Models["sfx"].Error)
}

func TestGenerate_FailureStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		detail string
	}{
		{name: "out of memory", err: backend.EngineFailure("CUDA out of memory. Tried to allocate 2 GiB"), code: http.StatusInternalServerError, detail: "CUDA out of memory. Try a shorter duration or a less demanding prompt."},
		{name: "engine", err: backend.EngineFailure("RuntimeError: shape mismatch"), code: http.StatusInternalServerError, detail: "Runtime error during music generation: "},
		{name: "unexpected", err: io.ErrUnexpectedEOF, code: http.StatusInternalServerError, detail: "An unexpected error occurred: unexpected EOF"},
		{name: "model closed", err: backend.ErrModelClosed, code: http.StatusServiceUnavailable, detail: "Music generation model not available."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, map[model.Task]*fakeModel{model.TaskMusic: {rate: 8000, err: tt.err}})

			w := s.do(t, http.MethodPost, "/generate_music/", `{"prompt":"x","duration":4}`)
			require.Equal(t, tt.code, w.Code)
			assert.Contains(t, decode[ErrorResponse](t, w).Detail, tt.detail)
		})
	}
}

func TestHealth_AllLoaded(t *testing.T) {
	s := newTestServer(t, map[model.Task]*fakeModel{model.TaskMusic: {rate: 8000}, model.TaskSFX: {rate: 8000}})

	health := decode[HealthResponse](t, s.do(t, http.MethodGet, "/health", ""))
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.ModelLoaded)
	assert.Empty(t, health.Message)
	assert.Equal(t, "test/music", health.Models["music"].Model)
	assert.Equal(t, "audiocraft", health.Models["sfx"].Backend)
}

func TestConcurrentRequestsNeverShareFilename(t *testing.T) {
	s := newTestServer(t, map[model.Task]*fakeModel{model.TaskMusic: {rate: 1000}, model.TaskSFX: {rate: 1000}})

	const n = 8
	urls := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := "/generate_music/"
			if i%2 == 1 {
				path = "/generate_sfx/"
			}
			w := s.do(t, http.MethodPost, path, `{"prompt":"x","duration":1}`)
			var resp struct {
				AudioURL string `json:"audio_url"`
			}
			if assert.Equal(t, http.StatusOK, w.Code) && assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp)) {
				urls[i] = resp.AudioURL
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, u := range urls {
		require.NotEmpty(t, u)
		assert.False(t, seen[u], "duplicate url %s", u)
		seen[u] = true
	}
}

func TestMissingArtifactAndUnknownRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/audio_files/music_missing.wav", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found", decode[ErrorResponse](t, w).Detail)

	w = s.do(t, http.MethodGet, "/generate_music/", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, map[model.Task]*fakeModel{model.TaskMusic: {rate: 1000}})

	s.do(t, http.MethodPost, "/generate_music/", `{"prompt":"x","duration":1}`)
	s.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.HTTPRequestsTotal.WithLabelValues("POST", "/generate_music/", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")))

	w := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `audiogen_generation_requests_total{outcome="success",task="music"} 1`)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestNewServer_RejectsInvalidCORSOrigin(t *testing.T) {
	reg := model.NewRegistry()
	_, err := NewServer(config.ServerConfig{CORSOrigins: []string{"not a url"}}, env.Test, Dependencies{
		Generator: generation.NewService(reg, nil),
		Statuses:  reg,
	})
	assert.Error(t, err)
}
