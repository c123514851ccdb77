package generation

import (
	"fmt"
	"strings"

	"github.com/ekisa-team/audiogen/internal/artifact"
	"github.com/ekisa-team/audiogen/internal/model"
)

// Request asks for one clip from a task's model.
type Request struct {
	Task     model.Task
	Prompt   string
	Duration int
}

// Validate checks the prompt is not blank and the duration is within the task's bounds.
func (r Request) Validate() error {
	if _, err := model.ParseTask(string(r.Task)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt must not be empty", ErrInvalidRequest)
	}
	if r.Duration < 1 || r.Duration > r.Task.MaxDuration() {
		return fmt.Errorf("%w: duration must be between 1 and %d seconds, got %d", ErrInvalidRequest, r.Task.MaxDuration(), r.Duration)
	}
	return nil
}

// Result describes a generated artifact.
type Result struct {
	Task     model.Task
	Prompt   string
	Duration int
	Artifact *artifact.Artifact
}
