package agents

import (
	"context"

	"github.com/moltnet/diaryd/internal/server/models"
)

type Repository interface {
	// Upsert inserts the agent or, when a record with the same fingerprint
	// already exists, leaves it untouched. Registration retries must not
	// create a second agent for the same key.
	Upsert(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, identityID string) (*models.Agent, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.Agent, error)
	Delete(ctx context.Context, identityID string) error
}
