// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership lifecycle service.
//
// All mutating operations for a given user serialize on a per-user lock and
// retry revision conflicts up to three times with a fixed 100ms backoff
// before surfacing ErrConflict.
type Service interface {
	// Subscribe creates a membership in PENDING_PAYMENT, collects the full
	// plan price and activates the membership. A declined payment leaves a
	// CANCELLED row behind as an auditable failed attempt.
	Subscribe(ctx context.Context, userID, planID, tierID uuid.UUID, autoRenew bool) (*Membership, error)

	// Upgrade moves an ACTIVE membership to a strictly higher tier, charging
	// the prorated difference. The end date is recomputed from the start date
	// and the new plan's duration.
	Upgrade(ctx context.Context, userID, newPlanID, newTierID uuid.UUID) (*Membership, error)

	// Downgrade moves an ACTIVE membership to a strictly lower tier. No money
	// changes hands; remaining paid time is kept, so the end date extends
	// from the current end date by the new plan's duration.
	Downgrade(ctx context.Context, userID, newPlanID, newTierID uuid.UUID) (*Membership, error)

	// Cancel terminates the ACTIVE membership and disables auto-renewal.
	Cancel(ctx context.Context, userID uuid.UUID) (*Membership, error)

	// GetCurrentMembership returns the user's ACTIVE membership through a
	// per-user read cache.
	GetCurrentMembership(ctx context.Context, userID uuid.UUID) (*Membership, error)

	// EvaluateAndUpdateTier re-runs tier evaluation for the user and applies
	// a tier change if one is due. A user with no ACTIVE membership is a
	// no-op.
	EvaluateAndUpdateTier(ctx context.Context, userID uuid.UUID) error

	// GetUserBenefits returns the active benefits of the user's current tier.
	GetUserBenefits(ctx context.Context, userID uuid.UUID) ([]TierBenefit, error)

	// GetTransactionHistory pages the user's ledger entries newest first.
	// Page is 0-based.
	GetTransactionHistory(ctx context.Context, userID uuid.UUID, page, size int) ([]*Transaction, error)
}
