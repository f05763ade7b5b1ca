package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"bluecarbon/internal/task/models"
	id "bluecarbon/pkg/domain"
	"bluecarbon/pkg/platform/sentinel"
	txcontext "bluecarbon/pkg/platform/tx"
)

const taskColumns = `id, industry_id, verifier_id, due_date, status, evidence_refs,
	transaction_hash, token_id, pending_tx_hash, mint_claim, created_at, updated_at`

// PostgresStore persists tasks in verification_tasks. Execute locks the row
// with SELECT ... FOR UPDATE for the duration of validate and mutate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, task *models.Task) error {
	var taskID int64
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO verification_tasks (industry_id, verifier_id, due_date, status, evidence_refs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		int64(task.IndustryID), int64(task.VerifierID), task.DueDate, string(task.Status),
		pq.Array(task.EvidenceRefs), task.CreatedAt, task.UpdatedAt,
	).Scan(&taskID)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	task.ID = id.TaskID(taskID)
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, taskID id.TaskID) (*models.Task, error) {
	return s.load(ctx, taskID, "")
}

func (s *PostgresStore) ListByVerifier(ctx context.Context, verifierID id.AccountID, status models.Status) ([]*models.Task, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM verification_tasks
		WHERE verifier_id = $1 AND status = $2
		ORDER BY id`, int64(verifierID), string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Execute(ctx context.Context, taskID id.TaskID, validate func(*models.Task) error, mutate func(*models.Task)) (*models.Task, error) {
	var updated *models.Task
	err := txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		t, err := s.load(ctx, taskID, " FOR UPDATE")
		if err != nil {
			return err
		}
		if err := validate(t); err != nil {
			return err
		}
		mutate(t)
		_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, `
			UPDATE verification_tasks
			SET status = $2, evidence_refs = $3, transaction_hash = $4, token_id = $5,
			    pending_tx_hash = $6, mint_claim = $7, updated_at = $8
			WHERE id = $1`,
			int64(t.ID), string(t.Status), pq.Array(t.EvidenceRefs), t.TransactionHash, t.TokenID,
			t.PendingTxHash, t.MintClaim, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) load(ctx context.Context, taskID id.TaskID, suffix string) (*models.Task, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM verification_tasks
		WHERE id = $1`+suffix, int64(taskID))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return t, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		t                        models.Task
		taskID, industry, verify int64
		status                   string
		txHash, pending, claim   sql.NullString
		tokenID                  sql.NullInt64
	)
	err := row.Scan(&taskID, &industry, &verify, &t.DueDate, &status, pq.Array(&t.EvidenceRefs),
		&txHash, &tokenID, &pending, &claim, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.ID = id.TaskID(taskID)
	t.IndustryID = id.AccountID(industry)
	t.VerifierID = id.AccountID(verify)
	t.Status = models.Status(status)
	if t.EvidenceRefs == nil {
		t.EvidenceRefs = []string{}
	}
	if txHash.Valid {
		t.TransactionHash = &txHash.String
	}
	if tokenID.Valid {
		t.TokenID = &tokenID.Int64
	}
	if pending.Valid {
		t.PendingTxHash = &pending.String
	}
	if claim.Valid {
		t.MintClaim = &claim.String
	}
	return &t, nil
}
