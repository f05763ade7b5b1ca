// Package service is the Task Lifecycle Controller: assignment, evidence
// submission and the approve-and-mint step that records a credit on the ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	identity "bluecarbon/internal/identity/models"
	"bluecarbon/internal/ledger"
	"bluecarbon/internal/task/metrics"
	"bluecarbon/internal/task/models"
	"bluecarbon/pkg/attrs"
	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/platform/audit"
	"bluecarbon/pkg/platform/sentinel"
	"bluecarbon/pkg/requestcontext"
)

const (
	defaultConfirmTimeout = 2 * time.Minute
	defaultUploadURLTTL   = 10 * time.Minute
	// claimGrace is added to the confirmation timeout before a MINTING task
	// left behind by a crashed attempt may be claimed again.
	claimGrace = time.Minute
)

// Store is the persistence contract for tasks. Implementations return
// sentinel errors.
type Store interface {
	Create(ctx context.Context, task *models.Task) error
	FindByID(ctx context.Context, taskID id.TaskID) (*models.Task, error)
	ListByVerifier(ctx context.Context, verifierID id.AccountID, status models.Status) ([]*models.Task, error)
	Execute(ctx context.Context, taskID id.TaskID, validate func(*models.Task) error, mutate func(*models.Task)) (*models.Task, error)
}

// Directory resolves the industry and verifier a task refers to.
type Directory interface {
	FindByID(ctx context.Context, kind id.AccountKind, accountID id.AccountID) (*identity.Account, error)
}

// Presigner hands out time-limited upload URLs for evidence files.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the task state machine.
type Service struct {
	store          Store
	directory      Directory
	ledger         ledger.Client
	presigner      Presigner
	confirmTimeout time.Duration
	uploadURLTTL   time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	tracer         trace.Tracer
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

// WithPresigner enables CreateUploadURL.
func WithPresigner(p Presigner) Option {
	return func(s *Service) {
		s.presigner = p
	}
}

// WithConfirmTimeout bounds how long ApproveAndMint waits for the ledger.
func WithConfirmTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// WithUploadURLTTL sets how long presigned upload URLs stay valid.
func WithUploadURLTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.uploadURLTTL = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(store Store, directory Directory, ledgerClient ledger.Client, opts ...Option) *Service {
	s := &Service{
		store:          store,
		directory:      directory,
		ledger:         ledgerClient,
		confirmTimeout: defaultConfirmTimeout,
		uploadURLTTL:   defaultUploadURLTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("bluecarbon/task")
	}
	return s
}

// Assign creates an ASSIGNED task for an industry and a verifier.
//
// Errors: CodeNotFound when either id does not resolve in its own variant.
func (s *Service) Assign(ctx context.Context, industryID, verifierID id.AccountID, dueDate time.Time) (*models.Task, error) {
	if _, err := s.directory.FindByID(ctx, id.KindIndustry, industryID); err != nil {
		return nil, renameNotFound(err, "industry not found")
	}
	if _, err := s.directory.FindByID(ctx, id.KindVerifier, verifierID); err != nil {
		return nil, renameNotFound(err, "verifier not found")
	}

	task, err := models.New(industryID, verifierID, dueDate, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, translate(err, "failed to create task")
	}
	s.logAudit(ctx, string(audit.EventTaskAssigned),
		"subject", taskSubject(task.ID),
		"actor_id", actor(ctx),
		"industry_id", task.IndustryID.String(),
		"verifier_id", task.VerifierID.String(),
	)
	s.incrementAssigned()
	return task, nil
}

// SubmitEvidence records the evidence keys and completes the task. Only the
// assigned verifier may submit, and only once.
func (s *Service) SubmitEvidence(ctx context.Context, taskID id.TaskID, verifierID id.AccountID, evidenceRefs []string) (*models.Task, error) {
	refs := models.NormalizeEvidenceRefs(evidenceRefs)
	if err := models.ValidateEvidenceRefs(refs); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	task, err := s.store.Execute(ctx, taskID,
		func(t *models.Task) error { return t.CanSubmitEvidence(verifierID) },
		func(t *models.Task) { t.ApplyEvidence(refs, now) },
	)
	if err != nil {
		return nil, translate(err, "failed to submit evidence")
	}
	s.logAudit(ctx, string(audit.EventEvidenceSubmitted),
		"subject", taskSubject(task.ID),
		"actor_id", actor(ctx),
		"evidence_count", len(refs),
	)
	s.incrementSubmitted()
	return task, nil
}

// ApproveAndMint mints a credit for a COMPLETED task and records the confirmed
// transaction.
//
// The task moves to MINTING under the store lock before the ledger is called,
// so a concurrent approval fails with CodeInvalidState instead of minting
// twice. A submitted transaction hash is persisted before awaiting it; when
// the wait fails without a definitive answer the hash is kept and the next
// approval awaits that transaction rather than submitting a new one. Each
// attempt holds its own claim; once a stale claim is taken over, the old
// attempt can no longer record an outcome.
//
// Errors:
//   - CodeNotFound for an unknown task or industry
//   - CodeInvalidState unless the task is COMPLETED
//   - CodeIncompleteProfile when the industry has no wallet or project id
//   - CodeLedgerError when submission or confirmation fails; the task is
//     back in COMPLETED
func (s *Service) ApproveAndMint(ctx context.Context, taskID id.TaskID, metadataRef string) (*models.Task, error) {
	ctx, span := s.tracer.Start(ctx, "task.ApproveAndMint",
		trace.WithAttributes(attribute.Int64("task.id", int64(taskID))))
	defer span.End()

	if metadataRef == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "tokenURI is required")
	}

	now := requestcontext.Now(ctx)
	claimTTL := s.confirmTimeout + claimGrace
	claim := uuid.NewString()
	var industry *identity.Account
	claimed, err := s.store.Execute(ctx, taskID,
		func(t *models.Task) error {
			if !t.MintClaimExpired(now, claimTTL) {
				if err := t.CanStartMint(); err != nil {
					return err
				}
			}
			a, err := s.directory.FindByID(ctx, id.KindIndustry, t.IndustryID)
			if err != nil {
				return renameNotFound(err, "industry not found")
			}
			if !a.HasMintingProfile() {
				return dErrors.New(dErrors.CodeIncompleteProfile, "industry is missing a wallet address or project id")
			}
			industry = a
			return nil
		},
		func(t *models.Task) { t.ApplyStartMint(claim, now) },
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeIncompleteProfile) {
			s.incrementMintFailure("incomplete_profile")
		}
		span.SetStatus(codes.Error, dErrors.MessageOf(err))
		return nil, translate(err, "failed to start mint")
	}

	mintCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	start := time.Now()
	receipt, err := s.mint(mintCtx, claimed, claim, industry, metadataRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mint failed")
		return nil, s.mintFailed(ctx, claimed.ID, claim, err)
	}
	s.observeMint(time.Since(start))

	tokenID := ledger.MintedTokenID(receipt)
	done := requestcontext.Now(ctx)
	minted, err := s.store.Execute(context.WithoutCancel(ctx), taskID,
		func(t *models.Task) error { return t.CanRecordMint(claim) },
		func(t *models.Task) { t.ApplyMinted(receipt.TxHash, tokenID, done) },
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "confirmed mint could not be recorded",
			"task_id", taskID.String(),
			"tx_hash", receipt.TxHash,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, translate(err, "failed to record mint")
	}
	span.SetAttributes(attribute.String("ledger.tx_hash", receipt.TxHash))
	s.logAudit(ctx, string(audit.EventCreditMinted),
		"subject", taskSubject(minted.ID),
		"actor_id", actor(ctx),
		"tx_hash", receipt.TxHash,
	)
	s.incrementMinted()
	return minted, nil
}

// mint submits a new transaction, or re-awaits the one left pending by an
// earlier attempt, and waits for its receipt.
func (s *Service) mint(ctx context.Context, task *models.Task, claim string, industry *identity.Account, metadataRef string) (*ledger.Receipt, error) {
	var handle ledger.Handle
	if task.PendingTxHash != nil {
		handle = ledger.Handle{TxHash: *task.PendingTxHash}
		s.logger.InfoContext(ctx, "awaiting pending mint transaction",
			"task_id", task.ID.String(),
			"tx_hash", handle.TxHash,
			"request_id", requestcontext.RequestID(ctx),
		)
	} else {
		var err error
		handle, err = s.ledger.SubmitMint(ctx, ledger.MintRequest{
			ProjectID:     industry.Industry.ProjectID,
			WalletAddress: industry.Industry.WalletAddress,
			MetadataRef:   metadataRef,
		})
		if err != nil {
			return nil, fmt.Errorf("submit mint: %w", err)
		}
		s.recordPending(ctx, task.ID, claim, handle)
	}

	receipt, err := s.ledger.AwaitConfirmation(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("await mint %s: %w", handle.TxHash, err)
	}
	return receipt, nil
}

func (s *Service) recordPending(ctx context.Context, taskID id.TaskID, claim string, handle ledger.Handle) {
	now := requestcontext.Now(ctx)
	_, err := s.store.Execute(context.WithoutCancel(ctx), taskID,
		func(t *models.Task) error { return t.CanRecordMint(claim) },
		func(t *models.Task) { t.ApplyPendingTx(handle.TxHash, now) },
	)
	if err != nil {
		// The wait still runs; only a later retry loses the handle.
		s.logger.ErrorContext(ctx, "failed to record pending mint transaction",
			"task_id", taskID.String(),
			"tx_hash", handle.TxHash,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return
	}
	s.logAudit(ctx, string(audit.EventMintSubmitted),
		"subject", taskSubject(taskID),
		"actor_id", actor(ctx),
		"tx_hash", handle.TxHash,
	)
}

// mintFailed returns the task to COMPLETED and reports a ledger error. The
// pending hash survives unless the ledger gave a definitive failure.
func (s *Service) mintFailed(ctx context.Context, taskID id.TaskID, claim string, cause error) error {
	definitive := errors.Is(cause, ledger.ErrReverted) || errors.Is(cause, ledger.ErrUnknownTransaction)
	reason := "ledger"
	switch {
	case errors.Is(cause, ledger.ErrReverted):
		reason = "reverted"
	case errors.Is(cause, ledger.ErrUnknownTransaction):
		reason = "unknown_transaction"
	case errors.Is(cause, ledger.ErrUnavailable):
		reason = "unavailable"
	case errors.Is(cause, context.DeadlineExceeded):
		reason = "timeout"
	}

	now := requestcontext.Now(ctx)
	if _, err := s.store.Execute(context.WithoutCancel(ctx), taskID,
		func(t *models.Task) error { return t.CanRecordMint(claim) },
		func(t *models.Task) { t.ApplyMintFailed(!definitive, now) },
	); err != nil {
		level := slog.LevelError
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "failed to roll back mint claim",
			"task_id", taskID.String(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	s.logAudit(ctx, string(audit.EventMintFailed),
		"subject", taskSubject(taskID),
		"actor_id", actor(ctx),
		"reason", reason,
	)
	s.logger.WarnContext(ctx, "ledger mint failed",
		"task_id", taskID.String(),
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
		"error", cause,
	)
	s.incrementMintFailure(reason)

	switch reason {
	case "timeout":
		return dErrors.Wrap(cause, dErrors.CodeLedgerError, "ledger confirmation timed out; retry to reconcile the pending transaction")
	case "unavailable":
		return dErrors.Wrap(cause, dErrors.CodeLedgerError, "ledger is temporarily unavailable; try again shortly")
	}
	return dErrors.Wrap(cause, dErrors.CodeLedgerError, "ledger mint failed")
}

// ListAssigned returns the verifier's open tasks with each industry's name.
func (s *Service) ListAssigned(ctx context.Context, verifierID id.AccountID) ([]*models.Task, error) {
	tasks, err := s.store.ListByVerifier(ctx, verifierID, models.StatusAssigned)
	if err != nil {
		return nil, translate(err, "failed to list tasks")
	}
	names := make(map[id.AccountID]string)
	for _, t := range tasks {
		name, ok := names[t.IndustryID]
		if !ok {
			a, err := s.directory.FindByID(ctx, id.KindIndustry, t.IndustryID)
			switch {
			case err == nil:
				name = a.Name
			case !dErrors.HasCode(err, dErrors.CodeNotFound):
				return nil, err
			}
			names[t.IndustryID] = name
		}
		t.IndustryName = name
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return tasks, nil
}

// Get returns a task the caller may see: admins see every task, verifiers and
// industries only their own.
func (s *Service) Get(ctx context.Context, taskID id.TaskID, viewerID id.AccountID, role id.Role) (*models.Task, error) {
	task, err := s.store.FindByID(ctx, taskID)
	if err != nil {
		return nil, translate(err, "failed to find task")
	}
	if !task.IsVisibleTo(viewerID, role) {
		return nil, dErrors.New(dErrors.CodeForbidden, "you are not assigned to this task")
	}
	return task, nil
}

// CreateUploadURL issues a presigned PUT URL for one evidence file. The key is
// returned to the caller, who submits it with SubmitEvidence once uploaded.
func (s *Service) CreateUploadURL(ctx context.Context, taskID id.TaskID, verifierID id.AccountID, req *models.UploadURLRequest) (*models.UploadURLResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.presigner == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "object storage is not configured")
	}
	task, err := s.store.FindByID(ctx, taskID)
	if err != nil {
		return nil, translate(err, "failed to find task")
	}
	if err := task.CanSubmitEvidence(verifierID); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("evidence/%d/%d-%s", task.ID, requestcontext.Now(ctx).UnixMilli(), req.FileName)
	url, err := s.presigner.PresignPut(ctx, key, req.FileType, s.uploadURLTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate upload url")
	}
	s.logAudit(ctx, string(audit.EventUploadURLIssued),
		"subject", taskSubject(task.ID),
		"actor_id", actor(ctx),
	)
	s.incrementUploadURL()
	return &models.UploadURLResponse{UploadURL: url, FileKey: key}, nil
}

// translate maps store errors onto domain errors. Domain errors raised by
// validate callbacks pass through untouched.
func translate(err error, internal string) error {
	var domainErr *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "task not found")
	case errors.As(err, &domainErr):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, internal)
	}
}

func renameNotFound(err error, message string) error {
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return dErrors.New(dErrors.CodeNotFound, message)
	}
	return err
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
		Reason:    attrs.ExtractString(attributes, "reason"),
		TxHash:    attrs.ExtractString(attributes, "tx_hash"),
		RequestID: requestID,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", event, "error", err)
	}
}

func taskSubject(taskID id.TaskID) string {
	return "TASK:" + taskID.String()
}

func actor(ctx context.Context) string {
	accountID := requestcontext.AccountID(ctx)
	if accountID.IsNil() {
		return ""
	}
	return fmt.Sprintf("%s:%d", requestcontext.Role(ctx).Kind(), accountID)
}

func (s *Service) incrementAssigned() {
	if s.metrics != nil {
		s.metrics.IncAssigned()
	}
}

func (s *Service) incrementSubmitted() {
	if s.metrics != nil {
		s.metrics.IncSubmitted()
	}
}

func (s *Service) incrementMinted() {
	if s.metrics != nil {
		s.metrics.IncMinted()
	}
}

func (s *Service) incrementMintFailure(reason string) {
	if s.metrics != nil {
		s.metrics.IncMintFailure(reason)
	}
}

func (s *Service) incrementUploadURL() {
	if s.metrics != nil {
		s.metrics.IncUploadURL()
	}
}

func (s *Service) observeMint(d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveMint(d)
	}
}
