package generation

import (
	"errors"
	"fmt"

	"github.com/ekisa-team/audiogen/internal/model"
)

// Sentinels matched with errors.Is against an *Error.
var (
	ErrInvalidRequest     = errors.New("invalid generation request")
	ErrModelUnavailable   = errors.New("model unavailable")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrGenerationFailed   = errors.New("generation failed")
	errOutOfMemoryMessage = "CUDA out of memory. Try a shorter duration or a less demanding prompt."
)

// Kind classifies a failed generation.
type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindModelUnavailable  Kind = "model_unavailable"
	KindResourceExhausted Kind = "resource_exhausted"
	KindGenerationFailed  Kind = "generation_failed"
)

// Stage is the last state a request reached.
type Stage string

const (
	StageReceived          Stage = "received"
	StageValidated         Stage = "validated"
	StageModelInvoked      Stage = "model_invoked"
	StageArtifactPersisted Stage = "artifact_persisted"
	StageResponseReady     Stage = "response_ready"
)

// Error is a failed generation. Message is safe to return to clients.
type Error struct {
	Kind    Kind
	Stage   Stage
	Task    model.Task
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the kind's sentinel and the cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindModelUnavailable:
		return ErrModelUnavailable
	case KindResourceExhausted:
		return ErrResourceExhausted
	default:
		return ErrGenerationFailed
	}
}

func taskLabel(t model.Task) string {
	if t == model.TaskSFX {
		return "sound effect"
	}
	return "music"
}

func invalidRequest(task model.Task, err error) *Error {
	return &Error{Kind: KindInvalidRequest, Stage: StageReceived, Task: task, Message: err.Error(), Err: err}
}

func modelUnavailable(task model.Task, stage Stage, err error) *Error {
	return &Error{
		Kind:    KindModelUnavailable,
		Stage:   stage,
		Task:    task,
		Message: fmt.Sprintf("%s generation model not available. Service might be starting up or encountered an error.", capitalize(taskLabel(task))),
		Err:     err,
	}
}

func resourceExhausted(task model.Task, stage Stage, err error) *Error {
	return &Error{Kind: KindResourceExhausted, Stage: stage, Task: task, Message: errOutOfMemoryMessage, Err: err}
}

func engineFailure(task model.Task, stage Stage, err error) *Error {
	return &Error{
		Kind:    KindGenerationFailed,
		Stage:   stage,
		Task:    task,
		Message: fmt.Sprintf("Runtime error during %s generation: %v", taskLabel(task), err),
		Err:     err,
	}
}

func unexpected(task model.Task, stage Stage, err error) *Error {
	return &Error{
		Kind:    KindGenerationFailed,
		Stage:   stage,
		Task:    task,
		Message: fmt.Sprintf("An unexpected error occurred: %v", err),
		Err:     err,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
