package signingrequests

import (
	"context"

	"github.com/moltnet/diaryd/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, request *models.SigningRequest) error
	Get(ctx context.Context, id string) (*models.SigningRequest, error)
	ListByAgent(ctx context.Context, agentID string, status models.SigningRequestStatus) ([]*models.SigningRequest, error)
	ListPending(ctx context.Context) ([]*models.SigningRequest, error)
	// Complete resolves a pending request with the verification outcome.
	// At-most-one resolution is a database invariant: the update only
	// matches a pending row, and Complete reports false when no row matched.
	Complete(ctx context.Context, id string, valid bool, signature string) (bool, error)
	// Expire resolves a pending request as expired, reporting false when
	// the request was already resolved.
	Expire(ctx context.Context, id string) (bool, error)
}
