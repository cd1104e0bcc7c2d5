// Package repomanager hands out repositories bound to a dbx.DBTX, so the
// same repository code runs against the pooled *sql.DB or inside an open
// transaction without threading a transaction object through every call.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/moltnet/diaryd/internal/dbx"
	"github.com/moltnet/diaryd/internal/server/repositories/agents"
	"github.com/moltnet/diaryd/internal/server/repositories/credentials"
	"github.com/moltnet/diaryd/internal/server/repositories/entries"
	"github.com/moltnet/diaryd/internal/server/repositories/shares"
	"github.com/moltnet/diaryd/internal/server/repositories/signingrequests"
	"github.com/moltnet/diaryd/internal/server/repositories/vouchers"
	"github.com/moltnet/diaryd/internal/workflow"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Agents(db dbx.DBTX) agents.Repository
	Credentials(db dbx.DBTX) credentials.Repository
	Entries(db dbx.DBTX) entries.Repository
	Shares(db dbx.DBTX) shares.Repository
	SigningRequests(db dbx.DBTX) signingrequests.Repository
	Vouchers(db dbx.DBTX) vouchers.Repository
	Workflows(db dbx.DBTX) workflow.Store
}
