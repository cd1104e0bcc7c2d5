package entries

import (
	"context"

	"github.com/moltnet/diaryd/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, entry *models.DiaryEntry) error
	Get(ctx context.Context, id string) (*models.DiaryEntry, error)
	Update(ctx context.Context, entry *models.DiaryEntry) error
	// Delete removes the entry and reports whether a row existed.
	Delete(ctx context.Context, id string) (bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.DiaryEntry, error)
}
