// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a membership. The only legal transitions
// are PENDING_PAYMENT -> ACTIVE, PENDING_PAYMENT -> CANCELLED and
// ACTIVE -> CANCELLED; nothing leaves CANCELLED.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusActive         Status = "ACTIVE"
	StatusCancelled      Status = "CANCELLED"
)

// PlanDuration is a billing period category.
type PlanDuration string

const (
	DurationMonthly   PlanDuration = "MONTHLY"
	DurationQuarterly PlanDuration = "QUARTERLY"
	DurationYearly    PlanDuration = "YEARLY"
)

// Months returns the number of calendar months a duration covers.
func (d PlanDuration) Months() int {
	switch d {
	case DurationMonthly:
		return 1
	case DurationQuarterly:
		return 3
	case DurationYearly:
		return 12
	default:
		return 0
	}
}

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TransactionSubscription TransactionType = "SUBSCRIPTION"
	TransactionRenewal      TransactionType = "RENEWAL"
	TransactionUpgrade      TransactionType = "UPGRADE"
	TransactionDowngrade    TransactionType = "DOWNGRADE"
	TransactionCancellation TransactionType = "CANCELLATION"
	TransactionRefund       TransactionType = "REFUND"
	TransactionTierChange   TransactionType = "TIER_CHANGE"
)

// CriteriaType identifies a tier eligibility rule. Types without a registered
// evaluator fail closed.
type CriteriaType string

const (
	CriteriaMinOrderCount      CriteriaType = "MIN_ORDER_COUNT"
	CriteriaMinOrderValue      CriteriaType = "MIN_ORDER_VALUE"
	CriteriaUserCohort         CriteriaType = "USER_COHORT"
	CriteriaCumulativeSpending CriteriaType = "CUMULATIVE_SPENDING"
	CriteriaMembershipDuration CriteriaType = "MEMBERSHIP_DURATION"
)

// BenefitType identifies a reward attached to a tier.
type BenefitType string

const (
	BenefitFreeDelivery       BenefitType = "FREE_DELIVERY"
	BenefitPercentageDiscount BenefitType = "PERCENTAGE_DISCOUNT"
	BenefitFixedDiscount      BenefitType = "FIXED_DISCOUNT"
	BenefitEarlyAccess        BenefitType = "EARLY_ACCESS"
	BenefitPrioritySupport    BenefitType = "PRIORITY_SUPPORT"
	BenefitExclusiveDeals     BenefitType = "EXCLUSIVE_DEALS"
	BenefitCashback           BenefitType = "CASHBACK"
	BenefitFasterDelivery     BenefitType = "FASTER_DELIVERY"
)

// Plan is a billing unit: how long a membership runs and what it costs.
// Plans are authored elsewhere; this service only reads them.
type Plan struct {
	ID       uuid.UUID       `json:"id" db:"id"`
	Name     string          `json:"name" db:"name"`
	Duration PlanDuration    `json:"duration" db:"duration"`
	Price    decimal.Decimal `json:"price" db:"price"`
	Active   bool            `json:"active" db:"active"`
}

// TierBenefit is a reward granted by a tier.
type TierBenefit struct {
	ID          int64           `json:"id" db:"id"`
	TierID      uuid.UUID       `json:"tier_id" db:"tier_id"`
	Type        BenefitType     `json:"type" db:"type"`
	Value       decimal.Decimal `json:"value" db:"value"`
	Description string          `json:"description" db:"description"`
	Active      bool            `json:"active" db:"active"`
}

// TierCriteria is one eligibility rule a user must satisfy to hold a tier.
type TierCriteria struct {
	ID                   int64           `json:"id" db:"id"`
	TierID               uuid.UUID       `json:"tier_id" db:"tier_id"`
	Type                 CriteriaType    `json:"type" db:"type"`
	Threshold            decimal.Decimal `json:"threshold" db:"threshold"`
	CohortName           string          `json:"cohort_name,omitempty" db:"cohort_name"`
	EvaluationPeriodDays int             `json:"evaluation_period_days" db:"evaluation_period_days"`
	Active               bool            `json:"active" db:"active"`
}

// Tier is a reward level. Level imposes a strict ordering; higher is better.
type Tier struct {
	ID       uuid.UUID      `json:"id" db:"id"`
	Name     string         `json:"name" db:"name"`
	Level    int            `json:"level" db:"level"`
	Active   bool           `json:"active" db:"active"`
	Benefits []TierBenefit  `json:"benefits,omitempty"`
	Criteria []TierCriteria `json:"criteria,omitempty"`
}

// ActiveBenefits returns the benefits currently granted by the tier.
func (t *Tier) ActiveBenefits() []TierBenefit {
	out := make([]TierBenefit, 0, len(t.Benefits))
	for _, b := range t.Benefits {
		if b.Active {
			out = append(out, b)
		}
	}
	return out
}

// ActiveCriteria returns the rules that currently gate the tier.
func (t *Tier) ActiveCriteria() []TierCriteria {
	out := make([]TierCriteria, 0, len(t.Criteria))
	for _, c := range t.Criteria {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

// Membership is one user's time-bounded subscription. At most one membership
// per user may be ACTIVE or PENDING_PAYMENT at any time; cancelled rows are
// kept forever as audit history. Revision backs optimistic concurrency and is
// bumped on every successful update.
type Membership struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	PlanID    uuid.UUID `json:"plan_id" db:"plan_id"`
	TierID    uuid.UUID `json:"tier_id" db:"tier_id"`
	Status    Status    `json:"status" db:"status"`
	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date" db:"end_date"`
	AutoRenew bool      `json:"auto_renew" db:"auto_renew"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Revision  int       `json:"revision" db:"revision"`
}

// Transaction is an immutable ledger entry recording one lifecycle or tier
// event. Entries are written exactly once and never mutated.
type Transaction struct {
	ID           int64           `json:"id" db:"id"`
	MembershipID uuid.UUID       `json:"membership_id" db:"membership_id"`
	Type         TransactionType `json:"type" db:"type"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	OldPlanID    *uuid.UUID      `json:"old_plan_id,omitempty" db:"old_plan_id"`
	NewPlanID    *uuid.UUID      `json:"new_plan_id,omitempty" db:"new_plan_id"`
	OldTierID    *uuid.UUID      `json:"old_tier_id,omitempty" db:"old_tier_id"`
	NewTierID    *uuid.UUID      `json:"new_tier_id,omitempty" db:"new_tier_id"`
	Notes        string          `json:"notes,omitempty" db:"notes"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// PaymentResult is the outcome reported by the payment gateway.
type PaymentResult struct {
	Succeeded bool   `json:"succeeded"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}
