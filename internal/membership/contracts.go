// internal/membership/contracts.go
package membership

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentGateway collects money. The service needs nothing beyond this single
// call; everything else about payments lives behind it.
type PaymentGateway interface {
	ProcessPayment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*PaymentResult, error)
}

// PlanLookup reads plan definitions. Returns ErrPlanNotFound for unknown ids.
type PlanLookup interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
}

// TierLookup reads tier definitions with their benefits and criteria.
// GetTier returns ErrTierNotFound for unknown ids; ListActiveTiers returns
// active tiers ordered by level descending.
type TierLookup interface {
	GetTier(ctx context.Context, id uuid.UUID) (*Tier, error)
	ListActiveTiers(ctx context.Context) ([]*Tier, error)
}

// OrderSource exposes the read-only order statistics criteria evaluation
// depends on.
type OrderSource interface {
	OrderCount(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	TotalOrderValue(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
	CumulativeSpending(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

// CohortSource answers cohort membership queries.
type CohortSource interface {
	IsInCohort(ctx context.Context, userID uuid.UUID, cohortName string) (bool, error)
}

// MembershipRepository persists memberships.
//
// Insert must reject a second open (ACTIVE or PENDING_PAYMENT) membership for
// the same user with ErrAlreadyActive. Update must compare the stored revision
// against m.Revision, return ErrConflict on mismatch and bump m.Revision on
// success.
type MembershipRepository interface {
	Insert(ctx context.Context, m *Membership) error
	Update(ctx context.Context, m *Membership) error

	// UpdateRecorded applies Update and appends entry to the ledger as one
	// atomic write: if either part fails, neither is durable. Assigns
	// entry.ID and entry.CreatedAt on success.
	UpdateRecorded(ctx context.Context, m *Membership, entry *Transaction) error

	// FindActiveByUser returns the user's ACTIVE membership or
	// ErrMembershipNotFound.
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*Membership, error)

	// FindOpenByUser returns the user's ACTIVE or PENDING_PAYMENT membership
	// or ErrMembershipNotFound.
	FindOpenByUser(ctx context.Context, userID uuid.UUID) (*Membership, error)

	// FindLatestByUser returns the user's most recent membership regardless
	// of status, or ErrMembershipNotFound if the user never subscribed.
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*Membership, error)

	// ListActiveUserIDs returns the user ids of all ACTIVE memberships.
	ListActiveUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Ledger reads the append-only transaction record. Entries are written
// atomically with their membership update through
// MembershipRepository.UpdateRecorded; ListByMembership pages newest first
// (page is 0-based).
type Ledger interface {
	ListByMembership(ctx context.Context, membershipID uuid.UUID, page, size int) ([]*Transaction, error)
}
