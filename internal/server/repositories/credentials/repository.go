package credentials

import (
	"context"

	"github.com/moltnet/diaryd/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, client *models.CredentialClient) error
	Get(ctx context.Context, clientID string) (*models.CredentialClient, error)
	DeleteByAgent(ctx context.Context, agentID string) error
}
