package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Error definitions for the backend package.
var (
	ErrNotFound          = errors.New("backend not found in registry")
	ErrAlreadyRegistered = errors.New("backend is already registered in the registry")
	ErrOutOfMemory       = errors.New("device out of memory")
	ErrEngine            = errors.New("inference engine failure")
	ErrModelClosed       = errors.New("model is closed")
)

var oomMarkers = []string{
	"out of memory",
	"outofmemoryerror",
	"cuda error: out of memory",
	"cublas_status_alloc_failed",
	"mps backend out of memory",
}

// IsOutOfMemoryMessage reports whether an engine message describes device memory exhaustion.
func IsOutOfMemoryMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range oomMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// EngineFailure wraps an engine message as ErrOutOfMemory or ErrEngine.
func EngineFailure(msg string) error {
	msg = strings.TrimSpace(msg)
	if IsOutOfMemoryMessage(msg) {
		return fmt.Errorf("%w: %s", ErrOutOfMemory, msg)
	}
	if msg == "" {
		return ErrEngine
	}
	return fmt.Errorf("%w: %s", ErrEngine, msg)
}
