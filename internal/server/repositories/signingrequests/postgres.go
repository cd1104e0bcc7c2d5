// Package signingrequests provides the PostgreSQL-backed repository for
// nonce-bound signing requests.
package signingrequests

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

const selectColumns = `id, agent_id, message, nonce, status, valid, signature, workflow_id, expires_at, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, request *models.SigningRequest) error {
	query := `
		INSERT INTO signing_requests (id, agent_id, message, nonce, status, workflow_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		request.ID, request.AgentID, request.Message, request.Nonce,
		request.Status, request.WorkflowID, request.ExpiresAt,
	).Scan(&request.CreatedAt, &request.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.SigningRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM signing_requests WHERE id = $1`
	request, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return request, nil
}

func (r *PostgresRepository) ListByAgent(ctx context.Context, agentID string, status models.SigningRequestStatus) ([]*models.SigningRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM signing_requests WHERE agent_id = $1`
	args := []any{agentID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	return r.list(ctx, query, args...)
}

func (r *PostgresRepository) ListPending(ctx context.Context) ([]*models.SigningRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM signing_requests WHERE status = 'pending'`
	return r.list(ctx, query)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.SigningRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.SigningRequest
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, request)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, id string, valid bool, signature string) (bool, error) {
	query := `
		UPDATE signing_requests
		SET status = 'completed', valid = $2, signature = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	return r.resolve(ctx, query, id, valid, signature)
}

func (r *PostgresRepository) Expire(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE signing_requests
		SET status = 'expired', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	return r.resolve(ctx, query, id)
}

func (r *PostgresRepository) resolve(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.SigningRequest, error) {
	request := &models.SigningRequest{}
	err := row.Scan(
		&request.ID, &request.AgentID, &request.Message, &request.Nonce,
		&request.Status, &request.Valid, &request.Signature, &request.WorkflowID,
		&request.ExpiresAt, &request.CreatedAt, &request.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return request, nil
}
