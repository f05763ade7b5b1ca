package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bluecarbon/internal/identity/models"
	"bluecarbon/internal/identity/store"
	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/requestcontext"
)

type DirectorySuite struct {
	suite.Suite
	dir *Directory
	ctx context.Context
	now time.Time
}

func TestDirectorySuite(t *testing.T) {
	suite.Run(t, new(DirectorySuite))
}

func (s *DirectorySuite) SetupTest() {
	s.dir = New(store.NewInMemory())
	s.now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *DirectorySuite) create(a *models.Account, err error) *models.Account {
	s.Require().NoError(err)
	s.Require().NoError(s.dir.Create(s.ctx, a))
	return a
}

func (s *DirectorySuite) TestCreateDuplicateEmail() {
	s.create(models.NewPublic("dup@x.com", "Pat", "h", s.now))

	v, _ := models.NewVerifier("DUP@x.com", "Vera", "h", s.now)
	err := s.dir.Create(s.ctx, v)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal("email already exists", dErrors.MessageOf(err))
}

func (s *DirectorySuite) TestFindByEmailNormalizes() {
	created := s.create(models.NewIndustry("acme@x.com", "Acme", "h", "GOLD", s.now))

	found, err := s.dir.FindByEmail(s.ctx, "  ACME@x.com ")
	s.Require().NoError(err)
	s.Equal(created.ID, found.ID)
	s.Equal(id.KindIndustry, found.Kind)

	_, err = s.dir.FindByEmail(s.ctx, "nobody@x.com")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *DirectorySuite) TestFindApprovable() {
	s.Run("prefers industry over verifier with the same id", func() {
		industry := s.create(models.NewIndustry("i@x.com", "Acme", "h", "GOLD", s.now))
		s.create(models.NewVerifier("v@x.com", "Vera", "h", s.now))

		found, err := s.dir.FindApprovable(s.ctx, industry.ID)
		s.Require().NoError(err)
		s.Equal(id.KindIndustry, found.Kind)
	})

	s.Run("falls back to verifier", func() {
		s.create(models.NewVerifier("v2@x.com", "Vic", "h", s.now))
		found, err := s.dir.FindApprovable(s.ctx, 2)
		s.Require().NoError(err)
		s.Equal(id.KindVerifier, found.Kind)
	})

	s.Run("public ids are never approvable", func() {
		s.create(models.NewPublic("p@x.com", "Pat", "h", s.now))
		_, err := s.dir.FindApprovable(s.ctx, 3)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *DirectorySuite) TestUpdateStatus() {
	public := s.create(models.NewPublic("p@x.com", "Pat", "h", s.now))
	industry := s.create(models.NewIndustry("i@x.com", "Acme", "h", "GOLD", s.now))

	_, err := s.dir.UpdateStatus(s.ctx, id.KindPublic, public.ID, models.StatusApproved)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	updated, err := s.dir.UpdateStatus(s.ctx, id.KindIndustry, industry.ID, models.StatusApproved)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, updated.Industry.Status)
	s.Equal(s.now, updated.UpdatedAt)

	_, err = s.dir.UpdateStatus(s.ctx, id.KindIndustry, 404, models.StatusApproved)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *DirectorySuite) TestUpdateActiveAndProfile() {
	industry := s.create(models.NewIndustry("i@x.com", "Acme", "h", "GOLD", s.now))
	verifier := s.create(models.NewVerifier("v@x.com", "Vera", "h", s.now))

	updated, err := s.dir.UpdateActive(s.ctx, id.KindVerifier, verifier.ID, true)
	s.Require().NoError(err)
	s.True(updated.Active)

	withProfile, err := s.dir.UpdateProfile(s.ctx, industry.ID, "0xabc", "PRJ-1")
	s.Require().NoError(err)
	s.True(withProfile.HasMintingProfile())

	_, err = s.dir.UpdateProfile(s.ctx, 77, "0xabc", "PRJ-1")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

type failingStore struct {
	Store
}

func (failingStore) FindByID(context.Context, id.AccountKind, id.AccountID) (*models.Account, error) {
	return nil, errors.New("connection reset")
}

func (s *DirectorySuite) TestStoreFailuresAreInternal() {
	dir := New(failingStore{})
	_, err := dir.FindByID(s.ctx, id.KindIndustry, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = dir.FindApprovable(s.ctx, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
