package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/ekisa-team/audiogen/internal/audio"
	"github.com/ekisa-team/audiogen/internal/backend"
)

// Task is the kind of audio a model produces.
type Task string

const (
	TaskMusic Task = "music"
	TaskSFX   Task = "sfx"
)

// Tasks lists every task in load order.
func Tasks() []Task {
	return []Task{TaskMusic, TaskSFX}
}

// ParseTask validates a task name.
func ParseTask(s string) (Task, error) {
	switch Task(s) {
	case TaskMusic, TaskSFX:
		return Task(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, s)
	}
}

// FilePrefix is the artifact filename prefix for the task.
func (t Task) FilePrefix() string {
	return string(t)
}

// MaxDuration is the longest clip, in seconds, a request may ask for.
func (t Task) MaxDuration() int {
	if t == TaskSFX {
		return 15
	}
	return 30
}

// DefaultDuration is used when a request omits the duration.
func (t Task) DefaultDuration() int {
	if t == TaskSFX {
		return 5
	}
	return 8
}

// Status represents the load state of a task's model.
type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusLoading  Status = "loading"
	StatusLoaded   Status = "loaded"
	StatusFailed   Status = "failed"
)

// Handle owns one loaded model. Generation on a handle is serialized.
type Handle struct {
	Task      Task
	ModelName string
	Device    string
	Provider  backend.Provider

	model  backend.Model
	params backend.GenerationParams
	mu     sync.Mutex
}

// NewHandle wraps a loaded backend model.
func NewHandle(task Task, modelName, device string, provider backend.Provider, m backend.Model, params backend.GenerationParams) *Handle {
	return &Handle{
		Task:      task,
		ModelName: modelName,
		Device:    device,
		Provider:  provider,
		model:     m,
		params:    params,
	}
}

// SampleRate returns the rate of every waveform the model produces.
func (h *Handle) SampleRate() int {
	return h.model.SampleRate()
}

// Generate sets the target duration and runs inference as one unit, so concurrent callers
// never see each other's parameters.
func (h *Handle) Generate(ctx context.Context, durationSeconds float64, prompts []string) ([]*audio.Waveform, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.model == nil {
		return nil, backend.ErrModelClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.model.SetGenerationParams(h.params.WithDuration(durationSeconds))
	return h.model.Generate(ctx, prompts)
}

// Close releases the model once in-flight generation finishes.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.model == nil {
		return nil
	}
	err := h.model.Close()
	h.model = nil
	return err
}
