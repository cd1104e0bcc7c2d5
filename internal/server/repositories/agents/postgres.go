// Package agents provides the PostgreSQL-backed repository for registered
// agent identities.
package agents

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

func (r *PostgresRepository) Upsert(ctx context.Context, agent *models.Agent) error {
	query := `
		INSERT INTO agents (identity_id, public_key, fingerprint)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, agent.IdentityID, agent.PublicKey, agent.Fingerprint)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, identityID string) (*models.Agent, error) {
	query := `
		SELECT identity_id, public_key, fingerprint, created_at
		FROM agents
		WHERE identity_id = $1
	`
	return r.scan(r.db.QueryRowContext(ctx, query, identityID))
}

func (r *PostgresRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Agent, error) {
	query := `
		SELECT identity_id, public_key, fingerprint, created_at
		FROM agents
		WHERE fingerprint = $1
	`
	return r.scan(r.db.QueryRowContext(ctx, query, fingerprint))
}

func (r *PostgresRepository) Delete(ctx context.Context, identityID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE identity_id = $1`, identityID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scan(row *sql.Row) (*models.Agent, error) {
	agent := &models.Agent{}
	err := row.Scan(&agent.IdentityID, &agent.PublicKey, &agent.Fingerprint, &agent.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return agent, nil
}
