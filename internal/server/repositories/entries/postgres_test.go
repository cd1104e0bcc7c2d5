package entries

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now)
	mock.ExpectQuery(`INSERT\s+INTO\s+diary_entries`).
		WithArgs("e-1", "agent-1", "hello", "", []byte(`[]`), models.VisibilityPrivate, []byte(`[]`), false).
		WillReturnRows(rows)

	entry := &models.DiaryEntry{ID: "e-1", OwnerID: "agent-1", Content: "hello", Visibility: models.VisibilityPrivate}
	if err := repo.Create(context.Background(), entry); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if entry.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be populated")
	}
}

func TestGet_DecodesVectors(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "content", "title", "tags", "visibility", "embedding",
		"injection_risk", "created_at", "updated_at",
	}).AddRow("e-1", "agent-1", "hello", "t", []byte(`["a","b"]`), "private", []byte(`[0.5,0.25]`), true, now, now)

	mock.ExpectQuery(`(?s)SELECT\s+id,\s+owner_id,.*FROM\s+diary_entries\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("e-1").
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "e-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(got.Tags) != 2 || len(got.Embedding) != 2 || !got.InjectionRisk {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+diary_entries`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestDelete_ReportsExistence(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE\s+FROM\s+diary_entries\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("e-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE\s+FROM\s+diary_entries\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("e-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	existed, err := repo.Delete(context.Background(), "e-1")
	if err != nil || !existed {
		t.Fatalf("expected first delete to report an existing row, got %v %v", existed, err)
	}
	existed, err = repo.Delete(context.Background(), "e-1")
	if err != nil || existed {
		t.Fatalf("expected second delete to report no row, got %v %v", existed, err)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+diary_entries`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	entry := &models.DiaryEntry{ID: "missing", Visibility: models.VisibilityPrivate}
	err := repo.Update(context.Background(), entry)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}
