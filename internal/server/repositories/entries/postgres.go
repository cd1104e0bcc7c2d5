// Package entries provides the PostgreSQL-backed repository for diary
// entry persistence.
package entries

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/dbx"
	"github.com/moltnet/diaryd/internal/server/models"
)

// PostgresRepository implements entry storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, entry *models.DiaryEntry) error {
	tags, embedding, err := marshalVectors(entry)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO diary_entries (id, owner_id, content, title, tags, visibility, embedding, injection_risk)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		entry.ID, entry.OwnerID, entry.Content, entry.Title, tags,
		entry.Visibility, embedding, entry.InjectionRisk,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.DiaryEntry, error) {
	query := `
		SELECT id, owner_id, content, title, tags, visibility, embedding, injection_risk, created_at, updated_at
		FROM diary_entries
		WHERE id = $1
	`
	return r.scanEntry(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) Update(ctx context.Context, entry *models.DiaryEntry) error {
	tags, embedding, err := marshalVectors(entry)
	if err != nil {
		return err
	}

	query := `
		UPDATE diary_entries
		SET content = $2, title = $3, tags = $4, visibility = $5, embedding = $6, injection_risk = $7, updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Content, entry.Title, tags, entry.Visibility, embedding, entry.InjectionRisk)
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

func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM diary_entries WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.DiaryEntry, error) {
	query := `
		SELECT id, owner_id, content, title, tags, visibility, embedding, injection_risk, created_at, updated_at
		FROM diary_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.DiaryEntry
	for rows.Next() {
		entry, err := r.scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanEntry(row *sql.Row) (*models.DiaryEntry, error) {
	entry, err := r.scanEntryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (r *PostgresRepository) scanEntryRow(row rowScanner) (*models.DiaryEntry, error) {
	var (
		entry     models.DiaryEntry
		tags      []byte
		embedding []byte
	)
	if err := row.Scan(
		&entry.ID, &entry.OwnerID, &entry.Content, &entry.Title, &tags,
		&entry.Visibility, &embedding, &entry.InjectionRisk,
		&entry.CreatedAt, &entry.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := json.Unmarshal(tags, &entry.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if err := json.Unmarshal(embedding, &entry.Embedding); err != nil {
		return nil, fmt.Errorf("decoding embedding: %w", err)
	}
	return &entry, nil
}

func marshalVectors(entry *models.DiaryEntry) (tags, embedding []byte, err error) {
	t := entry.Tags
	if t == nil {
		t = []string{}
	}
	tags, err = json.Marshal(t)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding tags: %w", err)
	}

	e := entry.Embedding
	if e == nil {
		e = []float32{}
	}
	embedding, err = json.Marshal(e)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding embedding: %w", err)
	}
	return tags, embedding, nil
}
