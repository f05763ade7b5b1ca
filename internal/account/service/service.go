// Package service is the Account Lifecycle Controller: registration, admin
// approval, OTP activation and the two-step password + OTP login.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"bluecarbon/internal/account/metrics"
	"bluecarbon/internal/account/models"
	"bluecarbon/internal/account/secrets"
	identity "bluecarbon/internal/identity/models"
	otp "bluecarbon/internal/otp/models"
	"bluecarbon/pkg/attrs"
	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/platform/audit"
	"bluecarbon/pkg/requestcontext"
)

const invalidCredentialsMessage = "invalid credentials"

// Directory is the slice of the Identity Directory the controller uses.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*identity.Account, error)
	FindApprovable(ctx context.Context, accountID id.AccountID) (*identity.Account, error)
	Create(ctx context.Context, account *identity.Account) error
	UpdateStatus(ctx context.Context, kind id.AccountKind, accountID id.AccountID, status identity.ApprovalStatus) (*identity.Account, error)
	UpdateActive(ctx context.Context, kind id.AccountKind, accountID id.AccountID, active bool) (*identity.Account, error)
	UpdateProfile(ctx context.Context, industryID id.AccountID, walletAddress, projectID string) (*identity.Account, error)
	CountAdmins(ctx context.Context) (int, error)
	ListPending(ctx context.Context) ([]*identity.Account, error)
}

// OTPManager issues and consumes one-time passcodes.
type OTPManager interface {
	Issue(ctx context.Context, email string, purpose otp.Purpose) (string, error)
	Validate(ctx context.Context, email, code string) error
}

type TokenIssuer interface {
	IssueSession(accountID id.AccountID, kind id.AccountKind, role id.Role) (string, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
	VerifyDummy(password string)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the account state machine. It owns no records; every
// read and write goes through the directory.
type Service struct {
	directory      Directory
	otp            OTPManager
	tokens         TokenIssuer
	hasher         PasswordHasher
	setupSecret    string
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithSetupSecret enables the initial-admin bootstrap. Without it every
// bootstrap attempt is forbidden.
func WithSetupSecret(secret string) Option {
	return func(s *Service) {
		s.setupSecret = secret
	}
}

func WithHasher(h PasswordHasher) Option {
	return func(s *Service) {
		s.hasher = h
	}
}

func New(directory Directory, otpManager OTPManager, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{directory: directory, otp: otpManager, tokens: tokens}
	for _, opt := range opts {
		opt(s)
	}
	if s.hasher == nil {
		s.hasher = secrets.NewHasher(0)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Register creates an inactive account of the requested kind. Public accounts
// get an activation code immediately; Industry and Verifier accounts wait for
// an administrator.
//
// Errors:
//   - CodeBadRequest ("invalid role") for an unknown kind
//   - CodeConflict ("email already exists") when any variant holds the email
//   - CodeNotificationFailed when the activation code could not be delivered;
//     the account exists and the code stays valid
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.RegisterResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	now := requestcontext.Now(ctx)
	var account *identity.Account
	switch req.Kind() {
	case id.KindPublic:
		account, err = identity.NewPublic(req.Email, req.Name, hash, now)
	case id.KindIndustry:
		account, err = identity.NewIndustry(req.Email, req.Name, hash, req.Tier, now)
	case id.KindVerifier:
		account, err = identity.NewVerifier(req.Email, req.Name, hash, now)
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid role")
	}
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}

	if err := s.directory.Create(ctx, account); err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(audit.EventAccountRegistered),
		"subject", subject(account),
		"kind", account.Kind.String(),
		"email", account.Email,
	)
	s.incrementRegistered(account.Kind)

	result := &models.RegisterResult{Account: account.Sanitized()}
	if account.RequiresApproval() {
		return result, nil
	}
	if _, err := s.otp.Issue(ctx, account.Email, otp.PurposeActivation); err != nil {
		return nil, err
	}
	result.ActivationSent = true
	return result, nil
}

// Approve marks a pending Industry or Verifier account APPROVED and sends it an
// activation code. Approving an already approved account re-sends the code.
func (s *Service) Approve(ctx context.Context, accountID id.AccountID) (*identity.Account, error) {
	account, err := s.directory.FindApprovable(ctx, accountID)
	if err != nil {
		return nil, err
	}
	approved, err := s.directory.UpdateStatus(ctx, account.Kind, account.ID, identity.StatusApproved)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(audit.EventAccountApproved),
		"subject", subject(approved),
		"actor_id", actor(ctx),
		"email", approved.Email,
	)
	s.incrementApproved(approved.Kind)

	if _, err := s.otp.Issue(ctx, approved.Email, otp.PurposeApproval); err != nil {
		return nil, err
	}
	return approved.Sanitized(), nil
}

// ApprovedMessage is the acknowledgement returned to the approving admin.
func ApprovedMessage(a *identity.Account) string {
	return fmt.Sprintf("User %s has been approved. Activation email sent.", a.Name)
}

// Activate consumes an activation code and marks the account active.
//
// Errors: CodeInvalidOTP for any code miss, CodeNotFound when the code was
// valid but no account holds the email.
func (s *Service) Activate(ctx context.Context, req *models.OTPRequest) (*identity.Account, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.otp.Validate(ctx, req.Email, req.OTP); err != nil {
		s.logOTPRejected(ctx, req.Email, err)
		return nil, err
	}

	account, err := s.directory.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	activated, err := s.directory.UpdateActive(ctx, account.Kind, account.ID, true)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(audit.EventAccountActivated),
		"subject", subject(activated),
		"email", activated.Email,
	)
	s.incrementActivated(activated.Kind)
	return activated.Sanitized(), nil
}

// Login checks the password and, on success, sends a login code. Unknown
// email, inactive or unapproved account and wrong password are all reported as
// the same CodeInvalidCredentials error.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	account, err := s.directory.FindByEmail(ctx, req.Email)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return err
		}
		s.hasher.VerifyDummy(req.Password)
		return s.loginFailed(ctx, req.Email, "unknown_email")
	}
	if !s.hasher.Verify(req.Password, account.PasswordHash) {
		return s.loginFailed(ctx, req.Email, "password_mismatch")
	}
	if !account.Active {
		return s.loginFailed(ctx, req.Email, "inactive")
	}
	if !account.IsApproved() {
		return s.loginFailed(ctx, req.Email, "not_approved")
	}

	if _, err := s.otp.Issue(ctx, account.Email, otp.PurposeLogin); err != nil {
		return err
	}
	s.logAudit(ctx, string(audit.EventLoginPasswordVerified),
		"subject", subject(account),
		"email", account.Email,
	)
	s.incrementLogin("password_verified")
	return nil
}

// VerifyLogin consumes a login code and issues a session token.
func (s *Service) VerifyLogin(ctx context.Context, req *models.OTPRequest) (*models.LoginResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.otp.Validate(ctx, req.Email, req.OTP); err != nil {
		s.logOTPRejected(ctx, req.Email, err)
		return nil, err
	}

	account, err := s.directory.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	// The account may have changed between the password and OTP steps.
	if !account.CanLogin() {
		return nil, dErrors.New(dErrors.CodeInvalidCredentials, invalidCredentialsMessage)
	}

	role := account.SessionRole()
	token, err := s.tokens.IssueSession(account.ID, account.Kind, role)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session token")
	}
	s.logAudit(ctx, string(audit.EventSessionIssued),
		"subject", subject(account),
		"role", role.String(),
	)
	s.incrementSession(role)

	return &models.LoginResponse{
		Message: models.MessageLoginSuccessful,
		Token:   token,
		User:    account.Sanitized(),
	}, nil
}

// BootstrapAdmin creates the first administrator. It requires the configured
// setup secret and refuses once any admin exists.
//
// Errors: CodeForbidden for a wrong or unconfigured secret, CodeConflict when an
// admin already exists or the email is taken.
func (s *Service) BootstrapAdmin(ctx context.Context, req *models.BootstrapAdminRequest) (*identity.Account, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !secrets.EqualSecret(s.setupSecret, req.Secret) {
		s.logger.WarnContext(ctx, "admin bootstrap rejected",
			"reason", "invalid_secret",
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.New(dErrors.CodeForbidden, "invalid setup secret")
	}

	n, err := s.directory.CountAdmins(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, dErrors.New(dErrors.CodeConflict, "an admin account already exists")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	admin, err := identity.NewAdmin(req.Email, "Admin", hash, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	if err := s.directory.Create(ctx, admin); err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(audit.EventAdminBootstrapped),
		"subject", subject(admin),
		"email", admin.Email,
	)
	return admin.Sanitized(), nil
}

// ListPending returns accounts awaiting approval, without password hashes.
func (s *Service) ListPending(ctx context.Context) ([]*identity.Account, error) {
	accounts, err := s.directory.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*identity.Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Sanitized())
	}
	return out, nil
}

// UpdateIndustryProfile sets the wallet address and project id the mint step
// requires.
func (s *Service) UpdateIndustryProfile(ctx context.Context, industryID id.AccountID, req *models.UpdateIndustryProfileRequest) (*identity.Account, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	account, err := s.directory.UpdateProfile(ctx, industryID, req.WalletAddress, req.ProjectID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(audit.EventIndustryProfileUpdate),
		"subject", subject(account),
		"actor_id", actor(ctx),
	)
	return account.Sanitized(), nil
}

func (s *Service) loginFailed(ctx context.Context, email, reason string) error {
	s.logAudit(ctx, string(audit.EventLoginFailed),
		"email", email,
		"reason", reason,
	)
	s.incrementLogin("rejected")
	return dErrors.New(dErrors.CodeInvalidCredentials, invalidCredentialsMessage)
}

func (s *Service) logOTPRejected(ctx context.Context, email string, err error) {
	if !dErrors.HasCode(err, dErrors.CodeInvalidOTP) {
		return
	}
	s.logAudit(ctx, string(audit.EventOTPRejected), "email", email)
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:    event,
		Subject:   attrs.ExtractString(attributes, "subject"),
		ActorID:   attrs.ExtractString(attributes, "actor_id"),
		Email:     attrs.ExtractString(attributes, "email"),
		Reason:    attrs.ExtractString(attributes, "reason"),
		RequestID: requestID,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", event, "error", err)
	}
}

func subject(a *identity.Account) string {
	return fmt.Sprintf("%s:%d", a.Kind, a.ID)
}

// actor names the authenticated caller, or "" outside an authenticated request.
func actor(ctx context.Context) string {
	accountID := requestcontext.AccountID(ctx)
	if accountID.IsNil() {
		return ""
	}
	return fmt.Sprintf("%s:%d", requestcontext.Role(ctx).Kind(), accountID)
}

func (s *Service) incrementRegistered(kind id.AccountKind) {
	if s.metrics != nil {
		s.metrics.IncRegistered(kind.String())
	}
}

func (s *Service) incrementApproved(kind id.AccountKind) {
	if s.metrics != nil {
		s.metrics.IncApproved(kind.String())
	}
}

func (s *Service) incrementActivated(kind id.AccountKind) {
	if s.metrics != nil {
		s.metrics.IncActivated(kind.String())
	}
}

func (s *Service) incrementLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.IncLogin(outcome)
	}
}

func (s *Service) incrementSession(role id.Role) {
	if s.metrics != nil {
		s.metrics.IncSession(role.String())
	}
}
