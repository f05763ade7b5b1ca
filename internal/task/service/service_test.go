package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	identity "bluecarbon/internal/identity/models"
	"bluecarbon/internal/ledger"
	"bluecarbon/internal/task/metrics"
	"bluecarbon/internal/task/models"
	"bluecarbon/internal/task/service/mocks"
	"bluecarbon/internal/task/store"
	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/platform/audit"
	auditpublisher "bluecarbon/pkg/platform/audit/publisher"
	auditmemory "bluecarbon/pkg/platform/audit/store/memory"
	"bluecarbon/pkg/requestcontext"
)

const (
	industryID = id.AccountID(10)
	verifierID = id.AccountID(20)
	wallet     = "0x52908400098527886E0F7030069857D2E4169EE7"
)

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	directory *mocks.MockDirectory
	presigner *mocks.MockPresigner
	store     *store.InMemoryStore
	ledger    *ledger.Memory
	audit     *auditmemory.InMemoryStore
	metrics   *metrics.Metrics
	service   *Service
	ctx       context.Context
	now       time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.directory = mocks.NewMockDirectory(s.ctrl)
	s.presigner = mocks.NewMockPresigner(s.ctrl)
	s.store = store.NewInMemory()
	s.ledger = ledger.NewMemory()
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = New(s.store, s.directory, s.ledger,
		WithPresigner(s.presigner),
		WithMetrics(s.metrics),
		WithAuditPublisher(auditpublisher.NewPublisher(s.audit)),
		WithConfirmTimeout(5*time.Second),
	)
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

// resetLedger swaps in a fresh ledger so submission counts start at zero.
func (s *ServiceSuite) resetLedger() {
	s.ledger = ledger.NewMemory()
	s.service.ledger = s.ledger
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) industry(walletAddress, projectID string) *identity.Account {
	a, err := identity.NewIndustry("plant@example.com", "Mangrove Works", "hash", "gold", s.now)
	s.Require().NoError(err)
	a.ID = industryID
	a.Industry.WalletAddress = walletAddress
	a.Industry.ProjectID = projectID
	return a
}

func (s *ServiceSuite) verifier() *identity.Account {
	a, err := identity.NewVerifier("field@example.com", "Field Verifier", "hash", s.now)
	s.Require().NoError(err)
	a.ID = verifierID
	return a
}

// seedTask stores a task in the given status without going through the service.
func (s *ServiceSuite) seedTask(status models.Status) id.TaskID {
	t, err := models.New(industryID, verifierID, s.now.Add(72*time.Hour), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, t))
	if status == models.StatusAssigned {
		return t.ID
	}
	_, err = s.store.Execute(s.ctx, t.ID,
		func(*models.Task) error { return nil },
		func(t *models.Task) { t.ApplyEvidence([]string{"evidence/1/1-site.jpg"}, s.now) },
	)
	s.Require().NoError(err)
	return t.ID
}

func (s *ServiceSuite) expectIndustry(a *identity.Account) {
	s.directory.EXPECT().FindByID(gomock.Any(), id.KindIndustry, industryID).Return(a, nil).AnyTimes()
}

func (s *ServiceSuite) taskState(taskID id.TaskID) *models.Task {
	t, err := s.store.FindByID(s.ctx, taskID)
	s.Require().NoError(err)
	return t
}

func (s *ServiceSuite) TestAssign() {
	due := s.now.Add(7 * 24 * time.Hour)

	s.Run("creates an assigned task", func() {
		s.directory.EXPECT().FindByID(gomock.Any(), id.KindIndustry, industryID).Return(s.industry("", ""), nil)
		s.directory.EXPECT().FindByID(gomock.Any(), id.KindVerifier, verifierID).Return(s.verifier(), nil)

		task, err := s.service.Assign(s.ctx, industryID, verifierID, due)
		s.Require().NoError(err)
		s.False(task.ID.IsNil())
		s.Equal(models.StatusAssigned, task.Status)
		s.Equal(due, task.DueDate)
		s.Empty(task.EvidenceRefs)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.Assigned))
		s.Contains(s.audit.Actions(), string(audit.EventTaskAssigned))
	})

	s.Run("unknown industry", func() {
		s.directory.EXPECT().FindByID(gomock.Any(), id.KindIndustry, industryID).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "account not found"))

		_, err := s.service.Assign(s.ctx, industryID, verifierID, due)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal("industry not found", dErrors.MessageOf(err))
	})

	s.Run("unknown verifier", func() {
		s.directory.EXPECT().FindByID(gomock.Any(), id.KindIndustry, industryID).Return(s.industry("", ""), nil)
		s.directory.EXPECT().FindByID(gomock.Any(), id.KindVerifier, verifierID).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "account not found"))

		_, err := s.service.Assign(s.ctx, industryID, verifierID, due)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal("verifier not found", dErrors.MessageOf(err))
	})

	s.Run("directory failure passes through", func() {
		s.directory.EXPECT().FindByID(gomock.Any(), id.KindIndustry, industryID).
			Return(nil, dErrors.Wrap(errors.New("conn reset"), dErrors.CodeInternal, "failed to find account"))

		_, err := s.service.Assign(s.ctx, industryID, verifierID, due)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestSubmitEvidence() {
	s.Run("assigned verifier completes the task", func() {
		taskID := s.seedTask(models.StatusAssigned)

		task, err := s.service.SubmitEvidence(s.ctx, taskID, verifierID, []string{" evidence/1/a.mp4 ", "", "evidence/1/b.jpg"})
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, task.Status)
		s.Equal([]string{"evidence/1/a.mp4", "evidence/1/b.jpg"}, task.EvidenceRefs)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.Submitted))
	})

	s.Run("other verifier is forbidden and the task is unchanged", func() {
		taskID := s.seedTask(models.StatusAssigned)

		_, err := s.service.SubmitEvidence(s.ctx, taskID, verifierID+1, []string{"evidence/x"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Equal(models.StatusAssigned, s.taskState(taskID).Status)
		s.Empty(s.taskState(taskID).EvidenceRefs)
	})

	s.Run("second submission is rejected", func() {
		taskID := s.seedTask(models.StatusCompleted)

		_, err := s.service.SubmitEvidence(s.ctx, taskID, verifierID, []string{"evidence/other"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Equal([]string{"evidence/1/1-site.jpg"}, s.taskState(taskID).EvidenceRefs)
	})

	s.Run("empty evidence", func() {
		taskID := s.seedTask(models.StatusAssigned)

		_, err := s.service.SubmitEvidence(s.ctx, taskID, verifierID, []string{" "})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown task", func() {
		_, err := s.service.SubmitEvidence(s.ctx, 9999, verifierID, []string{"evidence/x"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestApproveAndMint() {
	s.Run("mints and records the receipt", func() {
		s.expectIndustry(s.industry(wallet, "BC-001"))
		taskID := s.seedTask(models.StatusCompleted)

		task, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.Require().NoError(err)
		s.Equal(models.StatusApprovedAndMinted, task.Status)
		s.Require().NotNil(task.TransactionHash)
		s.Require().NotNil(task.TokenID)
		s.Nil(task.PendingTxHash)

		submitted := s.ledger.Submitted()
		s.Require().Len(submitted, 1)
		s.Equal(ledger.MintRequest{ProjectID: "BC-001", WalletAddress: wallet, MetadataRef: "ipfs://meta"}, submitted[len(submitted)-1])
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.Minted))

		events, err := s.audit.ListBySubject(s.ctx, taskSubject(taskID))
		s.Require().NoError(err)
		var minted *audit.Event
		for i := range events {
			if events[i].Action == string(audit.EventCreditMinted) {
				minted = &events[i]
			}
		}
		s.Require().NotNil(minted)
		s.Equal(*task.TransactionHash, minted.TxHash)
	})

	s.Run("receipt without CreditMinted leaves the token id empty", func() {
		s.resetLedger()
		s.expectIndustry(s.industry(wallet, "BC-001"))
		s.ledger.OmitEvent = true
		taskID := s.seedTask(models.StatusCompleted)

		task, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.Require().NoError(err)
		s.Equal(models.StatusApprovedAndMinted, task.Status)
		s.NotNil(task.TransactionHash)
		s.Nil(task.TokenID)
	})
}

func (s *ServiceSuite) TestApproveAndMintPreconditions() {
	s.Run("incomplete profile never transitions", func() {
		for _, a := range []*identity.Account{s.industry("", "BC-001"), s.industry(wallet, "")} {
			s.directory.EXPECT().FindByID(gomock.Any(), id.KindIndustry, industryID).Return(a, nil)
			taskID := s.seedTask(models.StatusCompleted)

			_, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
			s.True(dErrors.HasCode(err, dErrors.CodeIncompleteProfile))
			s.Equal(models.StatusCompleted, s.taskState(taskID).Status)
		}
		s.Empty(s.ledger.Submitted())
		s.Equal(float64(2), testutil.ToFloat64(s.metrics.MintFailures.WithLabelValues("incomplete_profile")))
	})

	s.Run("task still assigned", func() {
		taskID := s.seedTask(models.StatusAssigned)

		_, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Equal(models.StatusAssigned, s.taskState(taskID).Status)
	})

	s.Run("already minted", func() {
		s.expectIndustry(s.industry(wallet, "BC-001"))
		taskID := s.seedTask(models.StatusCompleted)
		_, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.Require().NoError(err)

		_, err = s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("missing metadata ref", func() {
		_, err := s.service.ApproveAndMint(s.ctx, 1, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown task", func() {
		_, err := s.service.ApproveAndMint(s.ctx, 9999, "ipfs://meta")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestApproveAndMintLedgerFailures() {
	s.Run("submission failure returns the task to COMPLETED", func() {
		s.resetLedger()
		s.expectIndustry(s.industry(wallet, "BC-001"))
		s.ledger.SubmitErr = func(ledger.MintRequest) error { return errors.New("insufficient funds") }
		taskID := s.seedTask(models.StatusCompleted)

		_, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.True(dErrors.HasCode(err, dErrors.CodeLedgerError))
		task := s.taskState(taskID)
		s.Equal(models.StatusCompleted, task.Status)
		s.Nil(task.PendingTxHash)
		s.Nil(task.TransactionHash)
		s.Contains(s.audit.Actions(), string(audit.EventMintFailed))
	})

	s.Run("timeout keeps the pending transaction and the retry reuses it", func() {
		s.resetLedger()
		s.expectIndustry(s.industry(wallet, "BC-001"))
		var calls int
		s.ledger.AwaitErr = func(ledger.Handle) error {
			calls++
			if calls == 1 {
				return context.DeadlineExceeded
			}
			return nil
		}
		taskID := s.seedTask(models.StatusCompleted)

		_, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.True(dErrors.HasCode(err, dErrors.CodeLedgerError))
		s.True(strings.Contains(dErrors.MessageOf(err), "timed out"))
		pending := s.taskState(taskID)
		s.Equal(models.StatusCompleted, pending.Status)
		s.Require().NotNil(pending.PendingTxHash)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.MintFailures.WithLabelValues("timeout")))

		task, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.Require().NoError(err)
		s.Equal(models.StatusApprovedAndMinted, task.Status)
		s.Equal(*pending.PendingTxHash, *task.TransactionHash)
		s.Len(s.ledger.Submitted(), 1)
	})

	s.Run("reverted transaction clears the pending hash", func() {
		s.resetLedger()
		s.expectIndustry(s.industry(wallet, "BC-001"))
		s.ledger.AwaitErr = func(h ledger.Handle) error {
			s.ledger.Revert(h)
			return nil
		}
		taskID := s.seedTask(models.StatusCompleted)

		_, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.True(dErrors.HasCode(err, dErrors.CodeLedgerError))
		s.True(errors.Is(err, ledger.ErrReverted))
		task := s.taskState(taskID)
		s.Equal(models.StatusCompleted, task.Status)
		s.Nil(task.PendingTxHash)

		s.ledger.AwaitErr = nil
		_, err = s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.Require().NoError(err)
		s.Len(s.ledger.Submitted(), 2)
	})

	s.Run("pending hash unknown to the ledger is dropped", func() {
		s.resetLedger()
		s.expectIndustry(s.industry(wallet, "BC-001"))
		taskID := s.seedTask(models.StatusCompleted)
		_, err := s.store.Execute(s.ctx, taskID,
			func(*models.Task) error { return nil },
			func(t *models.Task) { t.ApplyPendingTx("0xdeadbeef", s.now) },
		)
		s.Require().NoError(err)

		_, err = s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
		s.True(errors.Is(err, ledger.ErrUnknownTransaction))
		s.Nil(s.taskState(taskID).PendingTxHash)
		s.Empty(s.ledger.Submitted())
	})
}

func (s *ServiceSuite) TestApproveAndMintConcurrent() {
	s.expectIndustry(s.industry(wallet, "BC-001"))
	taskID := s.seedTask(models.StatusCompleted)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.ledger.AwaitErr = func(ledger.Handle) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
	}()
	<-entered

	_, err := s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	s.Equal("task is already being minted", dErrors.MessageOf(err))

	close(release)
	wg.Wait()
	s.Require().NoError(firstErr)
	s.Len(s.ledger.Submitted(), 1)
	s.Equal(models.StatusApprovedAndMinted, s.taskState(taskID).Status)
}

func (s *ServiceSuite) TestApproveAndMintReclaimsAbandonedClaim() {
	s.expectIndustry(s.industry(wallet, "BC-001"))
	taskID := s.seedTask(models.StatusCompleted)
	_, err := s.store.Execute(s.ctx, taskID,
		func(*models.Task) error { return nil },
		func(t *models.Task) { t.ApplyStartMint("crashed", s.now) },
	)
	s.Require().NoError(err)

	_, err = s.service.ApproveAndMint(s.ctx, taskID, "ipfs://meta")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
	task, err := s.service.ApproveAndMint(later, taskID, "ipfs://meta")
	s.Require().NoError(err)
	s.Equal(models.StatusApprovedAndMinted, task.Status)
}

func (s *ServiceSuite) TestListAssigned() {
	s.directory.EXPECT().FindByID(gomock.Any(), id.KindIndustry, industryID).Return(s.industry("", ""), nil).Times(1)
	first := s.seedTask(models.StatusAssigned)
	second := s.seedTask(models.StatusAssigned)
	s.seedTask(models.StatusCompleted)

	tasks, err := s.service.ListAssigned(s.ctx, verifierID)
	s.Require().NoError(err)
	s.Require().Len(tasks, 2)
	s.Equal(first, tasks[0].ID)
	s.Equal(second, tasks[1].ID)
	s.Equal("Mangrove Works", tasks[0].IndustryName)

	none, err := s.service.ListAssigned(s.ctx, verifierID+1)
	s.Require().NoError(err)
	s.NotNil(none)
	s.Empty(none)
}

func (s *ServiceSuite) TestGet() {
	taskID := s.seedTask(models.StatusAssigned)

	for _, tc := range []struct {
		name    string
		viewer  id.AccountID
		role    id.Role
		allowed bool
	}{
		{"admin", 1, id.RoleAdmin, true},
		{"assigned verifier", verifierID, id.RoleVerifier, true},
		{"owning industry", industryID, id.RoleIndustry, true},
		{"other verifier", verifierID + 1, id.RoleVerifier, false},
		{"public account", verifierID, id.RolePublic, false},
	} {
		s.Run(tc.name, func() {
			task, err := s.service.Get(s.ctx, taskID, tc.viewer, tc.role)
			if tc.allowed {
				s.Require().NoError(err)
				s.Equal(taskID, task.ID)
				return
			}
			s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		})
	}

	_, err := s.service.Get(s.ctx, 9999, 1, id.RoleAdmin)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestCreateUploadURL() {
	s.Run("presigns a key under the task prefix", func() {
		taskID := s.seedTask(models.StatusAssigned)
		wantKey := "evidence/" + taskID.String() + "/1780315200000-drone.mp4"
		s.presigner.EXPECT().PresignPut(gomock.Any(), wantKey, "video/mp4", 10*time.Minute).
			Return("https://bucket.example/upload?sig=1", nil)

		resp, err := s.service.CreateUploadURL(s.ctx, taskID, verifierID, &models.UploadURLRequest{FileName: "drone.mp4", FileType: "video/mp4"})
		s.Require().NoError(err)
		s.Equal(wantKey, resp.FileKey)
		s.Equal("https://bucket.example/upload?sig=1", resp.UploadURL)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.UploadURLs))
	})

	s.Run("only the assigned verifier", func() {
		taskID := s.seedTask(models.StatusAssigned)

		_, err := s.service.CreateUploadURL(s.ctx, taskID, verifierID+1, &models.UploadURLRequest{FileName: "a.jpg", FileType: "image/jpeg"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("only while assigned", func() {
		taskID := s.seedTask(models.StatusCompleted)

		_, err := s.service.CreateUploadURL(s.ctx, taskID, verifierID, &models.UploadURLRequest{FileName: "a.jpg", FileType: "image/jpeg"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("path separators in the file name", func() {
		_, err := s.service.CreateUploadURL(s.ctx, 1, verifierID, &models.UploadURLRequest{FileName: "../x.jpg", FileType: "image/jpeg"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("presigner failure", func() {
		taskID := s.seedTask(models.StatusAssigned)
		s.presigner.EXPECT().PresignPut(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("no credentials"))

		_, err := s.service.CreateUploadURL(s.ctx, taskID, verifierID, &models.UploadURLRequest{FileName: "a.jpg", FileType: "image/jpeg"})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
