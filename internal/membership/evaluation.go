// internal/membership/evaluation.go
package membership

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// criterionEvaluator decides whether one criterion holds for a user. One
// implementation exists per CriteriaType; new types plug in here without
// touching the evaluation loop.
type criterionEvaluator interface {
	Evaluate(ctx context.Context, userID uuid.UUID, m *Membership, c TierCriteria) (bool, error)
}

// TierEvaluator selects the best-fit tier for a user: the highest-level
// active tier whose active criteria all hold, falling back to the lowest
// active tier when none fully qualifies.
type TierEvaluator struct {
	tiers TierLookup
	rules map[CriteriaType]criterionEvaluator
}

// NewTierEvaluator creates an evaluator wired to the given data sources.
func NewTierEvaluator(tiers TierLookup, orders OrderSource, cohorts CohortSource) *TierEvaluator {
	return &TierEvaluator{
		tiers: tiers,
		rules: map[CriteriaType]criterionEvaluator{
			CriteriaMinOrderCount:      orderCountRule{orders},
			CriteriaMinOrderValue:      orderValueRule{orders},
			CriteriaUserCohort:         cohortRule{cohorts},
			CriteriaCumulativeSpending: spendingRule{orders},
			CriteriaMembershipDuration: durationRule{},
		},
	}
}

// EvaluateTier walks active tiers from the highest level down and returns the
// first whose criteria all pass. Tiers with no active criteria always pass,
// so the lowest criteria-free tier acts as the floor. An empty active tier
// set is a configuration error, not a user-facing condition.
func (e *TierEvaluator) EvaluateTier(ctx context.Context, userID uuid.UUID, m *Membership) (*Tier, error) {
	tiers, err := e.tiers.ListActiveTiers(ctx)
	if err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		return nil, ErrNoActiveTiers
	}

	for _, tier := range tiers {
		ok, err := e.meetsCriteria(ctx, userID, m, tier)
		if err != nil {
			return nil, err
		}
		if ok {
			return tier, nil
		}
	}

	// Nothing qualified; the lowest-level tier is the fallback.
	return tiers[len(tiers)-1], nil
}

// meetsCriteria is a logical AND over the tier's active criteria. Criteria
// types without a registered rule evaluate false rather than silently pass.
func (e *TierEvaluator) meetsCriteria(ctx context.Context, userID uuid.UUID, m *Membership, tier *Tier) (bool, error) {
	for _, c := range tier.ActiveCriteria() {
		rule, known := e.rules[c.Type]
		if !known {
			return false, nil
		}
		ok, err := rule.Evaluate(ctx, userID, m, c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

type orderCountRule struct {
	orders OrderSource
}

func (r orderCountRule) Evaluate(ctx context.Context, userID uuid.UUID, _ *Membership, c TierCriteria) (bool, error) {
	since := time.Now().UTC().AddDate(0, 0, -c.EvaluationPeriodDays)
	count, err := r.orders.OrderCount(ctx, userID, since)
	if err != nil {
		return false, err
	}
	// Compared as decimals so a fractional threshold is not truncated.
	return decimal.NewFromInt(int64(count)).GreaterThanOrEqual(c.Threshold), nil
}

type orderValueRule struct {
	orders OrderSource
}

func (r orderValueRule) Evaluate(ctx context.Context, userID uuid.UUID, _ *Membership, c TierCriteria) (bool, error) {
	since := time.Now().UTC().AddDate(0, 0, -c.EvaluationPeriodDays)
	total, err := r.orders.TotalOrderValue(ctx, userID, since)
	if err != nil {
		return false, err
	}
	return total.GreaterThanOrEqual(c.Threshold), nil
}

type cohortRule struct {
	cohorts CohortSource
}

func (r cohortRule) Evaluate(ctx context.Context, userID uuid.UUID, _ *Membership, c TierCriteria) (bool, error) {
	return r.cohorts.IsInCohort(ctx, userID, c.CohortName)
}

type spendingRule struct {
	orders OrderSource
}

func (r spendingRule) Evaluate(ctx context.Context, userID uuid.UUID, _ *Membership, c TierCriteria) (bool, error) {
	total, err := r.orders.CumulativeSpending(ctx, userID)
	if err != nil {
		return false, err
	}
	return total.GreaterThanOrEqual(c.Threshold), nil
}

type durationRule struct{}

func (durationRule) Evaluate(_ context.Context, _ uuid.UUID, m *Membership, c TierCriteria) (bool, error) {
	days := int64(time.Now().UTC().Sub(m.StartDate) / (24 * time.Hour))
	return decimal.NewFromInt(days).GreaterThanOrEqual(c.Threshold), nil
}
