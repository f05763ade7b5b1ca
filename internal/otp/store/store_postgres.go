package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bluecarbon/internal/otp/models"
	"bluecarbon/pkg/platform/sentinel"
	txcontext "bluecarbon/pkg/platform/tx"
)

// PostgresStore persists challenges in otp_challenges.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Challenge) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO otp_challenges (id, email, code, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Email, c.Code, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert otp challenge: %w", err)
	}
	return nil
}

// Consume deletes one live matching challenge in a single statement. SKIP
// LOCKED lets a concurrent consumer of the same code fall through to "no row"
// instead of waiting and then deleting nothing.
func (s *PostgresStore) Consume(ctx context.Context, email, code string, now time.Time) (*models.Challenge, error) {
	var c models.Challenge
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		DELETE FROM otp_challenges
		WHERE id = (
			SELECT id FROM otp_challenges
			WHERE email = $1 AND code = $2 AND expires_at > $3
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, email, code, expires_at, created_at`,
		email, code, now,
	).Scan(&c.ID, &c.Email, &c.Code, &c.ExpiresAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume otp challenge: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`DELETE FROM otp_challenges WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired otp challenges: %w", err)
	}
	return res.RowsAffected()
}
