package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bluecarbon/internal/task/models"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) create() *models.Task {
	t, err := models.New(1, 2, s.now.Add(72*time.Hour), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, t))
	return t
}

func (s *InMemoryStoreSuite) TestCreateAssignsSequentialIDs() {
	a := s.create()
	b := s.create()
	s.EqualValues(1, a.ID)
	s.EqualValues(2, b.ID)

	_, err := s.store.FindByID(s.ctx, 3)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestFindReturnsCopies() {
	t := s.create()
	got, err := s.store.FindByID(s.ctx, t.ID)
	s.Require().NoError(err)
	got.Status = models.StatusCompleted
	got.EvidenceRefs = append(got.EvidenceRefs, "x")

	again, err := s.store.FindByID(s.ctx, t.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAssigned, again.Status)
	s.Empty(again.EvidenceRefs)
}

func (s *InMemoryStoreSuite) TestExecuteRejectedValidationLeavesTask() {
	t := s.create()
	_, err := s.store.Execute(s.ctx, t.ID,
		func(t *models.Task) error { return t.CanSubmitEvidence(99) },
		func(t *models.Task) { t.ApplyEvidence([]string{"k"}, s.now) },
	)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	got, _ := s.store.FindByID(s.ctx, t.ID)
	s.Equal(models.StatusAssigned, got.Status)
}

func (s *InMemoryStoreSuite) TestExecuteSerializesTransitions() {
	t := s.create()
	_, err := s.store.Execute(s.ctx, t.ID,
		func(t *models.Task) error { return t.CanSubmitEvidence(2) },
		func(t *models.Task) { t.ApplyEvidence([]string{"k"}, s.now) },
	)
	s.Require().NoError(err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, t.ID,
				func(t *models.Task) error { return t.CanStartMint() },
				func(t *models.Task) { t.ApplyStartMint("claim", s.now) },
			)
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.EqualValues(1, wins.Load())
}

func (s *InMemoryStoreSuite) TestListByVerifier() {
	first := s.create()
	s.create()
	other, err := models.New(1, 5, s.now.Add(time.Hour), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, other))
	_, err = s.store.Execute(s.ctx, first.ID,
		func(*models.Task) error { return nil },
		func(t *models.Task) { t.ApplyEvidence([]string{"k"}, s.now) },
	)
	s.Require().NoError(err)

	tasks, err := s.store.ListByVerifier(s.ctx, 2, models.StatusAssigned)
	s.Require().NoError(err)
	s.Require().Len(tasks, 1)
	s.EqualValues(2, tasks[0].ID)
}
