package shares

import (
	"context"

	"github.com/moltnet/diaryd/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, share *models.DiaryEntryShare) error
	// Delete removes the share and reports whether a row existed.
	Delete(ctx context.Context, entryID, agentID string) (bool, error)
	Exists(ctx context.Context, entryID, agentID string) (bool, error)
}
