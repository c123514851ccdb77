package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ekisa-team/audiogen/internal/generation"
	"github.com/ekisa-team/audiogen/internal/model"
)

const successMessage = "Audio generated successfully"

// Generator runs one generation request.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail any `json:"detail"`
}

// MusicResponse is the body of a successful music generation.
type MusicResponse struct {
	AudioURL                 string  `json:"audio_url"`
	PromptUsed               string  `json:"prompt_used"`
	DurationGeneratedSeconds float64 `json:"duration_generated_seconds"`
	Message                  string  `json:"message"`
}

// SFXResponse is the body of a successful sound effect generation. Duration echoes the
// requested seconds, unlike the measured length in MusicResponse.
type SFXResponse struct {
	AudioURL string  `json:"audio_url"`
	Prompt   string  `json:"prompt"`
	Duration float64 `json:"duration"`
	Filename string  `json:"filename"`
	Message  string  `json:"message"`
}

// GenerateHandler serves the generation route of one task.
type GenerateHandler struct {
	task      model.Task
	generator Generator
	validator *requestValidator
}

// NewGenerateHandler creates a GenerateHandler for task.
func NewGenerateHandler(task model.Task, generator Generator) (*GenerateHandler, error) {
	validator, err := newRequestValidator(task)
	if err != nil {
		return nil, err
	}
	return &GenerateHandler{task: task, generator: generator, validator: validator}, nil
}

// Handle validates the body, generates the clip and renders the task's response.
func (h *GenerateHandler) Handle(c *gin.Context) {
	prompt, duration, err := h.validator.Decode(c.Request.Body)
	if err != nil {
		detail := any(err.Error())
		var verr *ValidationError
		if errors.As(err, &verr) {
			detail = verr.Fields
		}
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Detail: detail})
		return
	}

	res, err := h.generator.Generate(c.Request.Context(), generation.Request{
		Task:     h.task,
		Prompt:   prompt,
		Duration: duration,
	})
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusFor(err), ErrorResponse{Detail: detailFor(err)})
		return
	}

	c.JSON(http.StatusOK, h.render(res))
}

func (h *GenerateHandler) render(res *generation.Result) any {
	a := res.Artifact
	if h.task == model.TaskSFX {
		return SFXResponse{
			AudioURL: a.URL,
			Prompt:   res.Prompt,
			Duration: float64(res.Duration),
			Filename: a.Filename,
			Message:  successMessage,
		}
	}
	return MusicResponse{
		AudioURL:                 a.URL,
		PromptUsed:               res.Prompt,
		DurationGeneratedSeconds: a.DurationSeconds,
		Message:                  successMessage,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generation.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generation.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func detailFor(err error) string {
	var genErr *generation.Error
	if errors.As(err, &genErr) {
		return genErr.Message
	}
	return "An unexpected error occurred: " + err.Error()
}
