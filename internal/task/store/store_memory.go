package store

import (
	"context"
	"sort"
	"sync"

	"bluecarbon/internal/task/models"
	id "bluecarbon/pkg/domain"
	"bluecarbon/pkg/platform/sentinel"
)

// InMemoryStore keeps tasks in a map guarded by one mutex. Callers receive
// copies; mutation goes through Execute.
type InMemoryStore struct {
	mu    sync.RWMutex
	tasks map[id.TaskID]*models.Task
	seq   id.TaskID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{tasks: make(map[id.TaskID]*models.Task)}
}

// Create assigns the next task id and stores the task.
func (s *InMemoryStore) Create(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	task.ID = s.seq
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, taskID id.TaskID) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return t.Clone(), nil
}

// ListByVerifier returns the verifier's tasks in the given status, oldest first.
func (s *InMemoryStore) ListByVerifier(_ context.Context, verifierID id.AccountID, status models.Status) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.VerifierID == verifierID && t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Execute runs validate and mutate against the stored task while holding the
// write lock. mutate only runs when validate passes.
func (s *InMemoryStore) Execute(_ context.Context, taskID id.TaskID, validate func(*models.Task) error, mutate func(*models.Task)) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := t.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.tasks[taskID] = working
	return working.Clone(), nil
}
