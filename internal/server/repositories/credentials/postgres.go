// Package credentials provides the PostgreSQL-backed repository for issued
// OAuth-style credential clients.
package credentials

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

func (r *PostgresRepository) Create(ctx context.Context, client *models.CredentialClient) error {
	query := `
		INSERT INTO credential_clients (client_id, secret_hash, agent_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query, client.ClientID, client.SecretHash, client.AgentID).Scan(&client.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, clientID string) (*models.CredentialClient, error) {
	query := `
		SELECT client_id, secret_hash, agent_id, created_at
		FROM credential_clients
		WHERE client_id = $1
	`
	client := &models.CredentialClient{}
	err := r.db.QueryRowContext(ctx, query, clientID).Scan(
		&client.ClientID, &client.SecretHash, &client.AgentID, &client.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return client, nil
}

func (r *PostgresRepository) DeleteByAgent(ctx context.Context, agentID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credential_clients WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
