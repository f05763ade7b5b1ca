//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	identity "bluecarbon/internal/identity/models"
	identitystore "bluecarbon/internal/identity/store"
	"bluecarbon/internal/task/models"
	"bluecarbon/internal/task/store"
	id "bluecarbon/pkg/domain"
	"bluecarbon/pkg/platform/sentinel"
	"bluecarbon/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres   *containers.PostgresContainer
	store      *store.PostgresStore
	industryID id.AccountID
	verifierID id.AccountID
	now        time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx,
		"verification_tasks", "account_emails", "public_users", "industries", "verifiers"))

	s.now = time.Now().UTC().Truncate(time.Microsecond)
	accounts := identitystore.NewPostgres(s.postgres.DB)
	industry, err := identity.NewIndustry("plant@example.com", "Plant", "hash", "GOLD", s.now)
	s.Require().NoError(err)
	s.Require().NoError(accounts.Create(ctx, industry))
	verifier, err := identity.NewVerifier("field@example.com", "Field", "hash", s.now)
	s.Require().NoError(err)
	s.Require().NoError(accounts.Create(ctx, verifier))
	s.industryID, s.verifierID = industry.ID, verifier.ID
}

func (s *PostgresStoreSuite) create() *models.Task {
	t, err := models.New(s.industryID, s.verifierID, s.now.Add(48*time.Hour), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), t))
	return t
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	t := s.create()
	s.NotZero(t.ID)

	got, err := s.store.FindByID(ctx, t.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAssigned, got.Status)
	s.Empty(got.EvidenceRefs)
	s.Nil(got.TransactionHash)
	s.Nil(got.PendingTxHash)

	_, err = s.store.FindByID(ctx, t.ID+100)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestExecutePersistsMintFields() {
	ctx := context.Background()
	t := s.create()

	_, err := s.store.Execute(ctx, t.ID,
		func(t *models.Task) error { return t.CanSubmitEvidence(s.verifierID) },
		func(t *models.Task) { t.ApplyEvidence([]string{"evidence/1/a.jpg", "evidence/1/b.mp4"}, s.now) },
	)
	s.Require().NoError(err)
	_, err = s.store.Execute(ctx, t.ID,
		func(t *models.Task) error { return t.CanStartMint() },
		func(t *models.Task) {
			t.ApplyStartMint("claim-1", s.now)
			t.ApplyPendingTx("0xabc", s.now)
		},
	)
	s.Require().NoError(err)

	got, err := s.store.FindByID(ctx, t.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusMinting, got.Status)
	s.Equal([]string{"evidence/1/a.jpg", "evidence/1/b.mp4"}, got.EvidenceRefs)
	s.Require().NotNil(got.PendingTxHash)
	s.Equal("0xabc", *got.PendingTxHash)
	s.Require().NotNil(got.MintClaim)
	s.Equal("claim-1", *got.MintClaim)

	token := int64(7)
	_, err = s.store.Execute(ctx, t.ID,
		func(t *models.Task) error { return t.CanRecordMint("claim-1") },
		func(t *models.Task) { t.ApplyMinted("0xabc", &token, s.now) },
	)
	s.Require().NoError(err)
	got, err = s.store.FindByID(ctx, t.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApprovedAndMinted, got.Status)
	s.Equal(int64(7), *got.TokenID)
	s.Nil(got.PendingTxHash)
	s.Nil(got.MintClaim)
}

func (s *PostgresStoreSuite) TestConcurrentStartMintHasOneWinner() {
	ctx := context.Background()
	t := s.create()
	_, err := s.store.Execute(ctx, t.ID,
		func(*models.Task) error { return nil },
		func(t *models.Task) { t.ApplyEvidence([]string{"k"}, s.now) },
	)
	s.Require().NoError(err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.Execute(ctx, t.ID,
				func(t *models.Task) error { return t.CanStartMint() },
				func(t *models.Task) { t.ApplyStartMint("claim", s.now) },
			); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.EqualValues(1, wins.Load())
}

func (s *PostgresStoreSuite) TestListByVerifier() {
	ctx := context.Background()
	s.create()
	s.create()
	tasks, err := s.store.ListByVerifier(ctx, s.verifierID, models.StatusAssigned)
	s.Require().NoError(err)
	s.Len(tasks, 2)

	tasks, err = s.store.ListByVerifier(ctx, s.verifierID+1, models.StatusAssigned)
	s.Require().NoError(err)
	s.Empty(tasks)
}
