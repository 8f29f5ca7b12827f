package jobs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/brandguard/backend/internal/domain/audit"
)

// Registry is the in-memory source of truth for live audit tasks. All reads
// hand out clones, so a snapshot returned to one caller can never observe a
// half-applied transition made for another.
type Registry struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*audit.Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[uuid.UUID]*audit.Task{}}
}

func (r *Registry) Put(task *audit.Task) error {
	if task == nil || task.ID == uuid.Nil {
		return fmt.Errorf("task with id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already registered", task.ID)
	}
	cp := task.Clone()
	r.tasks[task.ID] = &cp
	return nil
}

// Get returns a point-in-time snapshot of the task.
func (r *Registry) Get(id uuid.UUID) (audit.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return audit.Task{}, false
	}
	return t.Clone(), true
}

// List returns up to limit task snapshots, most recent first.
func (r *Registry) List(limit int) []audit.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]audit.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Transition moves a task to next and applies mutate under the same lock, so
// status and its accompanying fields (report, error, completed_at) change
// atomically. Terminal states reject all further writes.
func (r *Registry) Transition(id uuid.UUID, next audit.Status, mutate func(*audit.Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return &audit.NotFoundError{TaskID: id.String()}
	}
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for task %s", t.Status, next, id)
	}
	t.Status = next
	if mutate != nil {
		mutate(t)
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
