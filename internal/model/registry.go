package model

import (
	"sync"
)

// TaskStatus is the load state of one configured task.
type TaskStatus struct {
	Task    Task   `json:"-"`
	Loaded  bool   `json:"loaded"`
	Model   string `json:"model"`
	Device  string `json:"device"`
	Backend string `json:"backend"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Registry stores at most one handle per task plus the status of every configured task.
type Registry struct {
	handles  map[Task]*Handle
	statuses map[Task]TaskStatus
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles:  make(map[Task]*Handle),
		statuses: make(map[Task]TaskStatus),
	}
}

// Get returns the handle for task. A missing handle means the task is unavailable.
func (r *Registry) Get(task Task) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[task]
	return h, ok
}

// Set stores a loaded handle, replacing nothing: the first handle per task wins.
func (r *Registry) Set(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[h.Task]; exists {
		return false
	}
	r.handles[h.Task] = h

	st := r.statuses[h.Task]
	st.Task = h.Task
	st.Loaded = true
	st.Model = h.ModelName
	st.Device = h.Device
	st.Backend = string(h.Provider)
	st.Status = StatusLoaded
	st.Error = ""
	r.statuses[h.Task] = st

	return true
}

// SetStatus records the status of a configured task.
func (r *Registry) SetStatus(st TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, st.Loaded = r.handles[st.Task]
	r.statuses[st.Task] = st
}

// Status returns the status of task and whether it is configured.
func (r *Registry) Status(task Task) (TaskStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.statuses[task]
	return st, ok
}

// Statuses returns the status of every configured task in load order.
func (r *Registry) Statuses() []TaskStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TaskStatus, 0, len(r.statuses))
	for _, task := range Tasks() {
		if st, ok := r.statuses[task]; ok {
			out = append(out, st)
		}
	}
	return out
}

// AllLoaded reports whether every configured task has a handle. It is false when
// nothing is configured.
func (r *Registry) AllLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.statuses) == 0 {
		return false
	}
	for task := range r.statuses {
		if _, ok := r.handles[task]; !ok {
			return false
		}
	}
	return true
}

// Clear removes every handle and marks loaded tasks unloaded. The removed handles are
// returned for the caller to close.
func (r *Registry) Clear() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Handle, 0, len(r.handles))
	for task, h := range r.handles {
		out = append(out, h)
		st := r.statuses[task]
		st.Loaded = false
		st.Status = StatusUnloaded
		r.statuses[task] = st
	}
	r.handles = make(map[Task]*Handle)

	return out
}
