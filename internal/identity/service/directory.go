// Package service resolves and mutates accounts across the three identity
// variants. It is the only way other modules reach account records.
package service

import (
	"context"
	"errors"
	"log/slog"

	"bluecarbon/internal/identity/models"
	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/platform/sentinel"
	"bluecarbon/pkg/requestcontext"
)

// Store is the persistence contract for accounts. Implementations return
// sentinel errors; the directory translates them.
type Store interface {
	Create(ctx context.Context, account *models.Account) error
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, kind id.AccountKind, accountID id.AccountID) (*models.Account, error)
	Execute(ctx context.Context, kind id.AccountKind, accountID id.AccountID, validate func(*models.Account) error, mutate func(*models.Account)) (*models.Account, error)
	CountAdmins(ctx context.Context) (int, error)
	ListPending(ctx context.Context) ([]*models.Account, error)
}

// Directory is the Identity Directory.
type Directory struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Directory)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = logger
	}
}

func New(store Store, opts ...Option) *Directory {
	d := &Directory{store: store}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// FindByEmail searches every variant for the normalized email.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	a, err := d.store.FindByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return nil, translate(err, "account not found", "failed to find account")
	}
	return a, nil
}

func (d *Directory) FindByID(ctx context.Context, kind id.AccountKind, accountID id.AccountID) (*models.Account, error) {
	a, err := d.store.FindByID(ctx, kind, accountID)
	if err != nil {
		return nil, translate(err, "account not found", "failed to find account")
	}
	return a, nil
}

// FindApprovable resolves an id against the Industry table first, then the
// Verifier table. Public accounts are never approvable.
func (d *Directory) FindApprovable(ctx context.Context, accountID id.AccountID) (*models.Account, error) {
	for _, kind := range []id.AccountKind{id.KindIndustry, id.KindVerifier} {
		a, err := d.store.FindByID(ctx, kind, accountID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to find account")
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
}

// Create stores a new account.
//
// Errors: CodeConflict ("email already exists") when any variant holds the email.
func (d *Directory) Create(ctx context.Context, account *models.Account) error {
	if err := d.store.Create(ctx, account); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeConflict, "email already exists")
		}
		d.logger.ErrorContext(ctx, "account insert failed",
			"kind", account.Kind,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
	}
	return nil
}

// UpdateStatus sets the approval status. Public accounts have none and fail
// with CodeInvalidState.
func (d *Directory) UpdateStatus(ctx context.Context, kind id.AccountKind, accountID id.AccountID, status models.ApprovalStatus) (*models.Account, error) {
	now := requestcontext.Now(ctx)
	a, err := d.store.Execute(ctx, kind, accountID,
		func(a *models.Account) error { return a.CanSetStatus(status) },
		func(a *models.Account) { a.ApplyStatus(status, now) },
	)
	if err != nil {
		return nil, translate(err, "account not found", "failed to update account status")
	}
	return a, nil
}

func (d *Directory) UpdateActive(ctx context.Context, kind id.AccountKind, accountID id.AccountID, active bool) (*models.Account, error) {
	now := requestcontext.Now(ctx)
	a, err := d.store.Execute(ctx, kind, accountID,
		func(*models.Account) error { return nil },
		func(a *models.Account) { a.ApplyActive(active, now) },
	)
	if err != nil {
		return nil, translate(err, "account not found", "failed to update account")
	}
	return a, nil
}

// UpdateProfile sets an industry's wallet address and project id. Empty values
// keep the stored ones.
func (d *Directory) UpdateProfile(ctx context.Context, industryID id.AccountID, walletAddress, projectID string) (*models.Account, error) {
	now := requestcontext.Now(ctx)
	a, err := d.store.Execute(ctx, id.KindIndustry, industryID,
		func(a *models.Account) error { return a.CanUpdateMintingProfile() },
		func(a *models.Account) { a.ApplyMintingProfile(walletAddress, projectID, now) },
	)
	if err != nil {
		return nil, translate(err, "industry not found", "failed to update industry profile")
	}
	return a, nil
}

func (d *Directory) CountAdmins(ctx context.Context) (int, error) {
	n, err := d.store.CountAdmins(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count admins")
	}
	return n, nil
}

// ListPending returns Industry and Verifier accounts awaiting approval.
func (d *Directory) ListPending(ctx context.Context) ([]*models.Account, error) {
	accounts, err := d.store.ListPending(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending accounts")
	}
	return accounts, nil
}

// translate maps store errors onto domain errors. Domain errors raised by
// validate callbacks pass through untouched.
func translate(err error, notFound, internal string) error {
	var domainErr *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFound)
	case errors.As(err, &domainErr):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, internal)
	}
}
