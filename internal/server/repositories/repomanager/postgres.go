package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/moltnet/diaryd/internal/dbx"
	"github.com/moltnet/diaryd/internal/server/migrations"
	"github.com/moltnet/diaryd/internal/server/repositories/agents"
	"github.com/moltnet/diaryd/internal/server/repositories/credentials"
	"github.com/moltnet/diaryd/internal/server/repositories/entries"
	"github.com/moltnet/diaryd/internal/server/repositories/shares"
	"github.com/moltnet/diaryd/internal/server/repositories/signingrequests"
	"github.com/moltnet/diaryd/internal/server/repositories/vouchers"
	"github.com/moltnet/diaryd/internal/server/repositories/workflows"
	"github.com/moltnet/diaryd/internal/workflow"
)

type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

func (m *PostgresRepositoryManager) Agents(db dbx.DBTX) agents.Repository {
	return agents.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Credentials(db dbx.DBTX) credentials.Repository {
	return credentials.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Entries(db dbx.DBTX) entries.Repository {
	return entries.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Shares(db dbx.DBTX) shares.Repository {
	return shares.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) SigningRequests(db dbx.DBTX) signingrequests.Repository {
	return signingrequests.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Vouchers(db dbx.DBTX) vouchers.Repository {
	return vouchers.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Workflows(db dbx.DBTX) workflow.Store {
	return workflows.NewPostgresStore(db)
}
