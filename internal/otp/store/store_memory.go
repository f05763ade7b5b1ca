package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"bluecarbon/internal/otp/models"
	"bluecarbon/pkg/platform/sentinel"
)

// InMemoryStore keeps challenges in a map guarded by one mutex, which makes
// Consume atomic.
type InMemoryStore struct {
	mu         sync.Mutex
	challenges map[uuid.UUID]models.Challenge
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{challenges: make(map[uuid.UUID]models.Challenge)}
}

func (s *InMemoryStore) Create(_ context.Context, c *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ID] = *c
	return nil
}

// Consume removes and returns the oldest live challenge for (email, code).
// Returns sentinel.ErrNotFound when there is none.
func (s *InMemoryStore) Consume(_ context.Context, email, code string, now time.Time) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var match *models.Challenge
	for _, c := range s.challenges {
		if c.Email != email || c.Code != code || !c.IsValidAt(now) {
			continue
		}
		if match == nil || c.CreatedAt.Before(match.CreatedAt) {
			found := c
			match = &found
		}
	}
	if match == nil {
		return nil, sentinel.ErrNotFound
	}
	delete(s.challenges, match.ID)
	return match, nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, c := range s.challenges {
		if !c.IsValidAt(now) {
			delete(s.challenges, key)
			n++
		}
	}
	return n, nil
}
