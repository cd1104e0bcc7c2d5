package vouchers

import (
	"context"

	"github.com/moltnet/diaryd/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, voucher *models.Voucher) error
	Get(ctx context.Context, code string) (*models.Voucher, error)
	// Redeem marks the voucher as used by agentID. Single use is a database
	// invariant: the update only matches an unredeemed, unexpired row, and
	// Redeem reports false when no row matched.
	Redeem(ctx context.Context, code, agentID string) (bool, error)
}
