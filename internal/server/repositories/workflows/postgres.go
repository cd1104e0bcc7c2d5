// Package workflows provides the PostgreSQL-backed workflow instance store,
// giving the workflow engine durability across process restarts.
package workflows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/dbx"
	"github.com/moltnet/diaryd/internal/workflow"
)

type PostgresStore struct {
	db dbx.DBTX
}

func NewPostgresStore(db dbx.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, instance *workflow.Instance) (bool, error) {
	query := `
		INSERT INTO workflow_instances (id, name, status, input)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, instance.ID, instance.Name, instance.Status, nullableJSON(instance.Input))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*workflow.Instance, error) {
	query := `
		SELECT id, name, status, input, result, error, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1
	`
	instance := &workflow.Instance{}
	var input, result []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&instance.ID, &instance.Name, &instance.Status, &input, &result,
		&instance.Error, &instance.CreatedAt, &instance.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	instance.Input = json.RawMessage(input)
	instance.Result = json.RawMessage(result)
	return instance, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, result json.RawMessage) error {
	query := `
		UPDATE workflow_instances
		SET status = 'completed', result = $2, updated_at = now()
		WHERE id = $1
	`
	return s.exec(ctx, query, id, nullableJSON(result))
}

func (s *PostgresStore) Fail(ctx context.Context, id string, errMsg string) error {
	query := `
		UPDATE workflow_instances
		SET status = 'failed', error = $2, updated_at = now()
		WHERE id = $1
	`
	return s.exec(ctx, query, id, errMsg)
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// nullableJSON maps an empty payload to NULL so JSONB columns never hold the
// empty string.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
