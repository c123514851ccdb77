package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ekisa-team/audiogen/internal/model"
)

const rootMessage = "Welcome to the audiogen API. POST a prompt to /generate_music/ or /generate_sfx/."

// HealthResponse reports whether every configured model is loaded.
type HealthResponse struct {
	Status      string                      `json:"status"`
	ModelLoaded bool                        `json:"model_loaded"`
	Models      map[string]model.TaskStatus `json:"models"`
	Message     string                      `json:"message,omitempty"`
}

// StatusReader exposes the load state of configured tasks.
type StatusReader interface {
	Statuses() []model.TaskStatus
	AllLoaded() bool
}

// HealthHandler serves / and /health.
type HealthHandler struct {
	statuses StatusReader
}

// NewHealthHandler creates a HealthHandler over statuses.
func NewHealthHandler(statuses StatusReader) *HealthHandler {
	return &HealthHandler{statuses: statuses}
}

// Root returns the welcome message.
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": rootMessage})
}

// Health always answers 200; a missing model shows up as status degraded.
func (h *HealthHandler) Health(c *gin.Context) {
	statuses := h.statuses.Statuses()
	resp := HealthResponse{
		Status:      "ok",
		ModelLoaded: h.statuses.AllLoaded(),
		Models:      make(map[string]model.TaskStatus, len(statuses)),
	}

	var missing []string
	for _, st := range statuses {
		resp.Models[string(st.Task)] = st
		if !st.Loaded {
			missing = append(missing, string(st.Task))
		}
	}

	switch {
	case len(statuses) == 0:
		resp.Status = "degraded"
		resp.Message = "No models configured."
	case !resp.ModelLoaded:
		resp.Status = "degraded"
		resp.Message = fmt.Sprintf("Models not loaded: %s.", strings.Join(missing, ", "))
	}

	c.JSON(http.StatusOK, resp)
}
