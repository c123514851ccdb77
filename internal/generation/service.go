// Package generation turns a prompt into a persisted audio artifact using the task's model.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ekisa-team/audiogen/internal/artifact"
	"github.com/ekisa-team/audiogen/internal/audio"
	"github.com/ekisa-team/audiogen/internal/backend"
	"github.com/ekisa-team/audiogen/internal/metrics"
	"github.com/ekisa-team/audiogen/internal/model"
)

const outcomeSuccess = "success"

// ErrEmptyResult is the cause when a model returns no audio.
var ErrEmptyResult = errors.New("model returned no audio")

// Option configures a Service.
type Option func(*Service)

// WithStrategy replaces the default loudness strategy.
func WithStrategy(strategy audio.Strategy) Option {
	return func(s *Service) {
		s.strategy = strategy
	}
}

// WithMetrics records outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger replaces slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service runs the request-to-artifact pipeline.
type Service struct {
	registry *model.Registry
	store    *artifact.Store
	strategy audio.Strategy
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewService creates a Service reading handles from registry and writing into store.
func NewService(registry *model.Registry, store *artifact.Store, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		store:    store,
		strategy: audio.DefaultStrategy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate validates req, runs inference on the task's model and persists the first
// waveform of the batch. Failures are returned as *Error. A panic anywhere in the
// pipeline is recovered and reported as a generation failure.
func (s *Service) Generate(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	stage := StageReceived

	log := s.logger.With("task", req.Task, "prompt", req.Prompt, "duration", req.Duration)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic during generation", "stage", stage, "panic", r)
			res, err = nil, unexpected(req.Task, stage, fmt.Errorf("%v", r))
		}

		var genErr *Error
		if errors.As(err, &genErr) {
			log.Error("Generation failed", "stage", genErr.Stage, "kind", genErr.Kind, "error", genErr.Err, "message", genErr.Message)
			s.metrics.RecordGeneration(string(req.Task), string(genErr.Kind), time.Since(start), 0)
			return
		}
		s.metrics.RecordGeneration(string(req.Task), outcomeSuccess, time.Since(start), res.Artifact.DurationSeconds)
	}()

	log.Info("Received generation request")

	if err := req.Validate(); err != nil {
		return nil, invalidRequest(req.Task, err)
	}
	stage = StageValidated

	handle, ok := s.registry.Get(req.Task)
	if !ok {
		return nil, modelUnavailable(req.Task, stage, nil)
	}

	stage = StageModelInvoked
	waves, err := handle.Generate(ctx, float64(req.Duration), []string{req.Prompt})
	if err != nil {
		return nil, classify(req.Task, stage, err)
	}
	if len(waves) == 0 || waves[0] == nil {
		return nil, engineFailure(req.Task, stage, ErrEmptyResult)
	}
	wave := waves[0]
	log.Debug("Inference finished", "samples", wave.NumSamples(), "channels", wave.NumChannels(), "elapsed", time.Since(start))

	a, err := s.store.Save(req.Task.FilePrefix(), wave, s.strategy)
	if err != nil {
		return nil, unexpected(req.Task, stage, err)
	}
	stage = StageArtifactPersisted

	res = &Result{
		Task:     req.Task,
		Prompt:   req.Prompt,
		Duration: req.Duration,
		Artifact: a,
	}
	stage = StageResponseReady

	log.Info("Audio generated", "filename", a.Filename, "duration_generated_seconds", a.DurationSeconds,
		"sample_rate", a.SampleRate, "elapsed", time.Since(start))

	return res, nil
}

// classify maps a backend error onto the failure kinds.
func classify(task model.Task, stage Stage, err error) *Error {
	switch {
	case errors.Is(err, backend.ErrModelClosed):
		return modelUnavailable(task, stage, err)
	case errors.Is(err, backend.ErrOutOfMemory):
		return resourceExhausted(task, stage, err)
	case errors.Is(err, backend.ErrEngine):
		return engineFailure(task, stage, err)
	default:
		return unexpected(task, stage, err)
	}
}
