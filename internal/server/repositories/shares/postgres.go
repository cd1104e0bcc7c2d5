// Package shares provides the PostgreSQL-backed repository for diary entry
// share records.
package shares

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

func (r *PostgresRepository) Create(ctx context.Context, share *models.DiaryEntryShare) error {
	query := `
		INSERT INTO diary_entry_shares (id, entry_id, agent_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (entry_id, agent_id) DO NOTHING
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query, share.ID, share.EntryID, share.AgentID).Scan(&share.CreatedAt)
	if err != nil {
		// ON CONFLICT DO NOTHING returns no row for a duplicate share.
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, entryID, agentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM diary_entry_shares WHERE entry_id = $1 AND agent_id = $2`, entryID, agentID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, entryID, agentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM diary_entry_shares WHERE entry_id = $1 AND agent_id = $2)`,
		entryID, agentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}
