// Package vouchers provides the PostgreSQL-backed repository for single-use
// registration vouchers.
package vouchers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/dbx"
	"github.com/moltnet/diaryd/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, voucher *models.Voucher) error {
	query := `
		INSERT INTO vouchers (code, issuer_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query, voucher.Code, voucher.IssuerID, voucher.ExpiresAt).Scan(&voucher.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, code string) (*models.Voucher, error) {
	query := `
		SELECT code, issuer_id, redeemed_by, redeemed_at, expires_at, created_at
		FROM vouchers
		WHERE code = $1
	`
	voucher := &models.Voucher{}
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&voucher.Code, &voucher.IssuerID, &voucher.RedeemedBy, &voucher.RedeemedAt,
		&voucher.ExpiresAt, &voucher.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return voucher, nil
}

func (r *PostgresRepository) Redeem(ctx context.Context, code, agentID string) (bool, error) {
	query := `
		UPDATE vouchers
		SET redeemed_by = $2, redeemed_at = now()
		WHERE code = $1 AND redeemed_by IS NULL AND expires_at > now()
	`
	res, err := r.db.ExecContext(ctx, query, code, agentID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}
