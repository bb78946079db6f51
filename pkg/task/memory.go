package task

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]Task
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[int64]Task)}
}

// Save inserts the task when its ID is zero, otherwise replaces it.
func (s *MemoryStore) Save(_ context.Context, t *Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := *t
	stored.Input = maps.Clone(t.Input)
	stored.Output = maps.Clone(t.Output)
	if stored.ID == 0 {
		s.nextID++
		stored.ID = s.nextID
		stored.Created = now
	} else {
		prev, ok := s.tasks[stored.ID]
		if !ok {
			return nil, ErrNotFound
		}
		stored.Created = prev.Created
	}
	stored.Modified = now
	s.tasks[stored.ID] = stored

	out := stored
	return &out, nil
}

// Get returns a copy of the task.
func (s *MemoryStore) Get(_ context.Context, id int64) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	t.Input = maps.Clone(t.Input)
	t.Output = maps.Clone(t.Output)
	return &t, nil
}

// ListByProcessInstance returns the tasks of a process instance ordered by ID.
func (s *MemoryStore) ListByProcessInstance(_ context.Context, processInstanceID int64) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, t := range s.tasks {
		if t.ProcessInstanceID == processInstanceID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
