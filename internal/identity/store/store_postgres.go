package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bluecarbon/internal/identity/models"
	"bluecarbon/internal/platform/postgres"
	id "bluecarbon/pkg/domain"
	"bluecarbon/pkg/platform/sentinel"
	txcontext "bluecarbon/pkg/platform/tx"
)

// PostgresStore persists accounts in one table per variant. The account_emails
// table is written in the same transaction as the variant row and carries the
// cross-variant email uniqueness.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	publicColumns   = `id, email, name, password_hash, is_active, created_at, updated_at`
	industryColumns = `id, email, name, password_hash, is_active, tier, status, wallet_address, project_id, created_at, updated_at`
	verifierColumns = `id, email, name, password_hash, is_active, status, role, created_at, updated_at`
)

func (s *PostgresStore) Create(ctx context.Context, account *models.Account) error {
	err := txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		var row *sql.Row
		switch account.Kind {
		case id.KindPublic:
			row = exec.QueryRowContext(ctx, `
				INSERT INTO public_users (email, name, password_hash, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id`,
				account.Email, account.Name, account.PasswordHash, account.Active, account.CreatedAt, account.UpdatedAt)
		case id.KindIndustry:
			p := account.Industry
			row = exec.QueryRowContext(ctx, `
				INSERT INTO industries (email, name, password_hash, is_active, tier, status, wallet_address, project_id, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				RETURNING id`,
				account.Email, account.Name, account.PasswordHash, account.Active,
				p.Tier, string(p.Status), nullString(p.WalletAddress), nullString(p.ProjectID),
				account.CreatedAt, account.UpdatedAt)
		case id.KindVerifier:
			p := account.Verifier
			row = exec.QueryRowContext(ctx, `
				INSERT INTO verifiers (email, name, password_hash, is_active, status, role, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING id`,
				account.Email, account.Name, account.PasswordHash, account.Active,
				string(p.Status), string(p.Role), account.CreatedAt, account.UpdatedAt)
		default:
			return fmt.Errorf("unknown account kind %q", account.Kind)
		}

		var newID int64
		if err := row.Scan(&newID); err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx,
			`INSERT INTO account_emails (email, kind, account_id) VALUES ($1, $2, $3)`,
			account.Email, string(account.Kind), newID); err != nil {
			return err
		}
		account.ID = id.AccountID(newID)
		return nil
	})
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	var (
		kind      string
		accountID int64
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT kind, account_id FROM account_emails WHERE email = $1`, email).Scan(&kind, &accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return s.FindByID(ctx, id.AccountKind(kind), id.AccountID(accountID))
}

func (s *PostgresStore) FindByID(ctx context.Context, kind id.AccountKind, accountID id.AccountID) (*models.Account, error) {
	return s.load(ctx, kind, accountID, "")
}

func (s *PostgresStore) load(ctx context.Context, kind id.AccountKind, accountID id.AccountID, suffix string) (*models.Account, error) {
	exec := txcontext.Exec(ctx, s.db)
	var (
		a   *models.Account
		err error
	)
	switch kind {
	case id.KindPublic:
		a, err = scanPublic(exec.QueryRowContext(ctx,
			`SELECT `+publicColumns+` FROM public_users WHERE id = $1`+suffix, int64(accountID)))
	case id.KindIndustry:
		a, err = scanIndustry(exec.QueryRowContext(ctx,
			`SELECT `+industryColumns+` FROM industries WHERE id = $1`+suffix, int64(accountID)))
	case id.KindVerifier:
		a, err = scanVerifier(exec.QueryRowContext(ctx,
			`SELECT `+verifierColumns+` FROM verifiers WHERE id = $1`+suffix, int64(accountID)))
	default:
		return nil, sentinel.ErrNotFound
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}

// Execute locks the account row, applies validate and mutate, and writes the
// result back in one transaction.
func (s *PostgresStore) Execute(ctx context.Context, kind id.AccountKind, accountID id.AccountID, validate func(*models.Account) error, mutate func(*models.Account)) (*models.Account, error) {
	var updated *models.Account
	err := txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		a, err := s.load(ctx, kind, accountID, " FOR UPDATE")
		if err != nil {
			return err
		}
		if err := validate(a); err != nil {
			return err
		}
		mutate(a)
		if err := s.update(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) update(ctx context.Context, a *models.Account) error {
	exec := txcontext.Exec(ctx, s.db)
	var err error
	switch a.Kind {
	case id.KindPublic:
		_, err = exec.ExecContext(ctx, `
			UPDATE public_users SET name = $2, is_active = $3, updated_at = $4 WHERE id = $1`,
			int64(a.ID), a.Name, a.Active, a.UpdatedAt)
	case id.KindIndustry:
		_, err = exec.ExecContext(ctx, `
			UPDATE industries
			SET name = $2, is_active = $3, tier = $4, status = $5, wallet_address = $6, project_id = $7, updated_at = $8
			WHERE id = $1`,
			int64(a.ID), a.Name, a.Active, a.Industry.Tier, string(a.Industry.Status),
			nullString(a.Industry.WalletAddress), nullString(a.Industry.ProjectID), a.UpdatedAt)
	case id.KindVerifier:
		_, err = exec.ExecContext(ctx, `
			UPDATE verifiers SET name = $2, is_active = $3, status = $4, role = $5, updated_at = $6 WHERE id = $1`,
			int64(a.ID), a.Name, a.Active, string(a.Verifier.Status), string(a.Verifier.Role), a.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verifiers WHERE role = $1`, string(models.VerifierRoleAdmin)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]*models.Account, error) {
	exec := txcontext.Exec(ctx, s.db)
	pending := string(models.StatusPending)

	var out []*models.Account
	rows, err := exec.QueryContext(ctx,
		`SELECT `+industryColumns+` FROM industries WHERE status = $1 ORDER BY id`, pending)
	if err != nil {
		return nil, fmt.Errorf("list pending industries: %w", err)
	}
	industries, err := collect(rows, scanIndustry)
	if err != nil {
		return nil, fmt.Errorf("list pending industries: %w", err)
	}
	out = append(out, industries...)

	rows, err = exec.QueryContext(ctx,
		`SELECT `+verifierColumns+` FROM verifiers WHERE status = $1 ORDER BY id`, pending)
	if err != nil {
		return nil, fmt.Errorf("list pending verifiers: %w", err)
	}
	verifiers, err := collect(rows, scanVerifier)
	if err != nil {
		return nil, fmt.Errorf("list pending verifiers: %w", err)
	}
	return append(out, verifiers...), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func collect(rows *sql.Rows, scan func(scanner) (*models.Account, error)) ([]*models.Account, error) {
	defer rows.Close()
	var out []*models.Account
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanPublic(row scanner) (*models.Account, error) {
	var (
		a     models.Account
		rawID int64
	)
	if err := row.Scan(&rawID, &a.Email, &a.Name, &a.PasswordHash, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = id.AccountID(rawID)
	a.Kind = id.KindPublic
	return &a, nil
}

func scanIndustry(row scanner) (*models.Account, error) {
	var (
		a              models.Account
		p              models.IndustryProfile
		rawID          int64
		status         string
		wallet, projID sql.NullString
	)
	if err := row.Scan(&rawID, &a.Email, &a.Name, &a.PasswordHash, &a.Active,
		&p.Tier, &status, &wallet, &projID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = models.ApprovalStatus(status)
	p.WalletAddress = wallet.String
	p.ProjectID = projID.String
	a.ID = id.AccountID(rawID)
	a.Kind = id.KindIndustry
	a.Industry = &p
	return &a, nil
}

func scanVerifier(row scanner) (*models.Account, error) {
	var (
		a            models.Account
		rawID        int64
		status, role string
	)
	if err := row.Scan(&rawID, &a.Email, &a.Name, &a.PasswordHash, &a.Active,
		&status, &role, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = id.AccountID(rawID)
	a.Kind = id.KindVerifier
	a.Verifier = &models.VerifierProfile{
		Status: models.ApprovalStatus(status),
		Role:   models.VerifierRole(role),
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
