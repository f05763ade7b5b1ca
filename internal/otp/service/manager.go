// Package service issues and validates one-time passcodes bound to an email.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bluecarbon/internal/otp/metrics"
	"bluecarbon/internal/otp/models"
	"bluecarbon/internal/otp/ratelimit"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/platform/sentinel"
	"bluecarbon/pkg/requestcontext"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 10 * time.Minute

const invalidOTPMessage = "invalid or expired otp"

type Store interface {
	Create(ctx context.Context, c *models.Challenge) error
	Consume(ctx context.Context, email, code string, now time.Time) (*models.Challenge, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Notifier delivers a code to its recipient.
type Notifier interface {
	Notify(ctx context.Context, to, code, subject string) error
}

// RateLimiter refuses bursts of issuance for one email and purpose.
type RateLimiter interface {
	Allow(ctx context.Context, email, purpose string) error
}

// Manager is the OTP Challenge Manager.
type Manager struct {
	store    Store
	notifier Notifier
	limiter  RateLimiter
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithRateLimiter(l RateLimiter) Option {
	return func(m *Manager) {
		m.limiter = l
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func New(store Store, notifier Notifier, opts ...Option) *Manager {
	m := &Manager{store: store, notifier: notifier, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Issue persists a fresh challenge for email and sends it with the subject for
// purpose. The returned code is for tests and local tooling; callers on the
// request path must not echo it.
//
// Errors:
//   - CodeRateLimited when the limiter refuses the request
//   - CodeNotificationFailed when delivery fails; the challenge stays stored
func (m *Manager) Issue(ctx context.Context, email string, purpose models.Purpose) (string, error) {
	if m.limiter != nil {
		if err := m.limiter.Allow(ctx, email, string(purpose)); err != nil {
			if errors.Is(err, ratelimit.ErrBlocked) || errors.Is(err, ratelimit.ErrTooSoon) {
				m.incrementRateLimited()
				return "", dErrors.New(dErrors.CodeRateLimited, err.Error())
			}
			// A broken limiter must not lock users out of login.
			m.logger.WarnContext(ctx, "otp rate limiter unavailable",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
	}

	challenge, err := models.NewChallenge(email, requestcontext.Now(ctx), m.ttl)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate otp")
	}
	if err := m.store.Create(ctx, challenge); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store otp")
	}
	m.incrementIssued(purpose)

	if err := m.notifier.Notify(ctx, email, challenge.Code, purpose.Subject()); err != nil {
		m.incrementNotificationFailures()
		m.logger.ErrorContext(ctx, "otp delivery failed",
			"purpose", string(purpose),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return challenge.Code, dErrors.Wrap(err, dErrors.CodeNotificationFailed, "failed to send verification email")
	}
	return challenge.Code, nil
}

// Validate consumes a live challenge matching (email, code). Unknown, wrong and
// expired codes all fail with the same CodeInvalidOTP error.
func (m *Manager) Validate(ctx context.Context, email, code string) error {
	if len(code) != models.CodeLength {
		m.incrementValidationFailed()
		return dErrors.New(dErrors.CodeInvalidOTP, invalidOTPMessage)
	}
	_, err := m.store.Consume(ctx, email, code, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			m.incrementValidationFailed()
			return dErrors.New(dErrors.CodeInvalidOTP, invalidOTPMessage)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate otp")
	}
	m.incrementValidated()
	return nil
}

// PurgeExpired removes challenges that can no longer validate.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge expired otp challenges")
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "purged expired otp challenges", "count", n)
		if m.metrics != nil {
			m.metrics.AddPurged(n)
		}
	}
	return n, nil
}

func (m *Manager) incrementIssued(purpose models.Purpose) {
	if m.metrics != nil {
		m.metrics.IncrementIssued(string(purpose))
	}
}

func (m *Manager) incrementValidated() {
	if m.metrics != nil {
		m.metrics.IncrementValidated()
	}
}

func (m *Manager) incrementValidationFailed() {
	if m.metrics != nil {
		m.metrics.IncrementValidationFailed()
	}
}

func (m *Manager) incrementNotificationFailures() {
	if m.metrics != nil {
		m.metrics.IncrementNotificationFailures()
	}
}

func (m *Manager) incrementRateLimited() {
	if m.metrics != nil {
		m.metrics.IncrementRateLimited()
	}
}
