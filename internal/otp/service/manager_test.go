package service

//go:generate mockgen -source=manager.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"bluecarbon/internal/otp/metrics"
	"bluecarbon/internal/otp/models"
	"bluecarbon/internal/otp/ratelimit"
	"bluecarbon/internal/otp/service/mocks"
	"bluecarbon/internal/otp/store"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/requestcontext"
)

type ManagerSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	notifier *mocks.MockNotifier
	store    *store.InMemoryStore
	metrics  *metrics.Metrics
	manager  *Manager
	now      time.Time
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.store = store.NewInMemory()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.manager = New(s.store, s.notifier, WithMetrics(s.metrics))
	s.now = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
}

func (s *ManagerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ManagerSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *ManagerSuite) issue(email string, purpose models.Purpose) string {
	s.notifier.EXPECT().Notify(gomock.Any(), email, gomock.Any(), purpose.Subject()).Return(nil)
	code, err := s.manager.Issue(s.at(s.now), email, purpose)
	s.Require().NoError(err)
	return code
}

func (s *ManagerSuite) TestIssue() {
	s.Run("delivers the stored code with the purpose subject", func() {
		var delivered string
		s.notifier.EXPECT().
			Notify(gomock.Any(), "a@x.com", gomock.Any(), "Your Login Verification Code").
			DoAndReturn(func(_ context.Context, _, code, _ string) error {
				delivered = code
				return nil
			})

		code, err := s.manager.Issue(s.at(s.now), "a@x.com", models.PurposeLogin)
		s.Require().NoError(err)
		s.Equal(delivered, code)
		s.Len(code, models.CodeLength)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Issued.WithLabelValues("login")))
	})

	s.Run("notification failure keeps the challenge usable", func() {
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(errors.New("smtp down"))

		code, err := s.manager.Issue(s.at(s.now), "b@x.com", models.PurposeActivation)
		s.True(dErrors.HasCode(err, dErrors.CodeNotificationFailed))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.NotificationFailures))

		s.NoError(s.manager.Validate(s.at(s.now.Add(time.Minute)), "b@x.com", code))
	})
}

func (s *ManagerSuite) TestIssueRateLimited() {
	limiter := mocks.NewMockRateLimiter(s.ctrl)
	manager := New(s.store, s.notifier, WithRateLimiter(limiter), WithMetrics(s.metrics))

	s.Run("refused attempts never reach the notifier", func() {
		limiter.EXPECT().Allow(gomock.Any(), "a@x.com", "login").
			Return(fmt.Errorf("%w (retry in 30s)", ratelimit.ErrTooSoon))

		_, err := manager.Issue(s.at(s.now), "a@x.com", models.PurposeLogin)
		s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.RateLimited))
	})

	s.Run("limiter outage does not block issuance", func() {
		limiter.EXPECT().Allow(gomock.Any(), "a@x.com", "login").Return(errors.New("redis: connection refused"))
		s.notifier.EXPECT().Notify(gomock.Any(), "a@x.com", gomock.Any(), gomock.Any()).Return(nil)

		_, err := manager.Issue(s.at(s.now), "a@x.com", models.PurposeLogin)
		s.NoError(err)
	})
}

func (s *ManagerSuite) TestValidate() {
	s.Run("code is usable exactly once", func() {
		code := s.issue("once@x.com", models.PurposeActivation)
		ctx := s.at(s.now.Add(time.Minute))

		s.Require().NoError(s.manager.Validate(ctx, "once@x.com", code))
		err := s.manager.Validate(ctx, "once@x.com", code)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidOTP))
	})

	s.Run("expired code never validates", func() {
		code := s.issue("late@x.com", models.PurposeLogin)

		err := s.manager.Validate(s.at(s.now.Add(DefaultTTL)), "late@x.com", code)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidOTP))
	})

	s.Run("code is bound to its email", func() {
		code := s.issue("owner@x.com", models.PurposeLogin)

		err := s.manager.Validate(s.at(s.now), "other@x.com", code)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidOTP))
		s.NoError(s.manager.Validate(s.at(s.now), "owner@x.com", code))
	})

	s.Run("unknown, wrong and malformed codes share one message", func() {
		s.issue("msg@x.com", models.PurposeLogin)
		for _, code := range []string{"", "12", "abcdef", "1234567"} {
			err := s.manager.Validate(s.at(s.now), "msg@x.com", code)
			s.Equal(invalidOTPMessage, dErrors.MessageOf(err))
		}
	})

	s.Run("older challenges remain valid after a new one is issued", func() {
		first := s.issue("multi@x.com", models.PurposeLogin)
		second := s.issue("multi@x.com", models.PurposeLogin)

		s.NoError(s.manager.Validate(s.at(s.now), "multi@x.com", first))
		if second != first {
			s.NoError(s.manager.Validate(s.at(s.now), "multi@x.com", second))
		}
	})
}

// Two validations of one code race; exactly one may win.
func (s *ManagerSuite) TestConcurrentValidation() {
	code := s.issue("race@x.com", models.PurposeLogin)
	ctx := s.at(s.now)

	const attempts = 16
	var wg sync.WaitGroup
	var ok, invalid atomic.Int32
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.manager.Validate(ctx, "race@x.com", code)
			switch {
			case err == nil:
				ok.Add(1)
			case dErrors.HasCode(err, dErrors.CodeInvalidOTP):
				invalid.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(attempts-1), invalid.Load())
}

func (s *ManagerSuite) TestPurgeExpired() {
	s.issue("old@x.com", models.PurposeLogin)

	n, err := s.manager.PurgeExpired(s.at(s.now.Add(time.Minute)))
	s.Require().NoError(err)
	s.Zero(n)

	n, err = s.manager.PurgeExpired(s.at(s.now.Add(DefaultTTL)))
	s.Require().NoError(err)
	s.Equal(int64(1), n)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Purged))
}

func (s *ManagerSuite) TestStoreFailure() {
	failing := mocks.NewMockStore(s.ctrl)
	manager := New(failing, s.notifier)

	failing.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	_, err := manager.Issue(s.at(s.now), "a@x.com", models.PurposeLogin)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	failing.EXPECT().Consume(gomock.Any(), "a@x.com", "123456", s.now).Return(nil, errors.New("timeout"))
	err = manager.Validate(s.at(s.now), "a@x.com", "123456")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
