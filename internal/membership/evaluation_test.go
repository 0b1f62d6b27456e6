// internal/membership/evaluation_test.go
package membership

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTiers serves a fixed tier list.
type stubTiers struct {
	tiers []*Tier
}

func (s *stubTiers) GetTier(_ context.Context, id uuid.UUID) (*Tier, error) {
	for _, t := range s.tiers {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, ErrTierNotFound
}

func (s *stubTiers) ListActiveTiers(_ context.Context) ([]*Tier, error) {
	out := make([]*Tier, 0, len(s.tiers))
	for _, t := range s.tiers {
		if t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level > out[j].Level })
	return out, nil
}

type stubOrders struct {
	count    int
	total    decimal.Decimal
	spending decimal.Decimal
	err      error
}

func (s *stubOrders) OrderCount(context.Context, uuid.UUID, time.Time) (int, error) {
	return s.count, s.err
}

func (s *stubOrders) TotalOrderValue(context.Context, uuid.UUID, time.Time) (decimal.Decimal, error) {
	return s.total, s.err
}

func (s *stubOrders) CumulativeSpending(context.Context, uuid.UUID) (decimal.Decimal, error) {
	return s.spending, s.err
}

type stubCohorts struct {
	cohorts map[string]bool
}

func (s *stubCohorts) IsInCohort(_ context.Context, _ uuid.UUID, name string) (bool, error) {
	return s.cohorts[name], nil
}

func orderCountCriteria(threshold int64, periodDays int) TierCriteria {
	return TierCriteria{
		Type:                 CriteriaMinOrderCount,
		Threshold:            decimal.NewFromInt(threshold),
		EvaluationPeriodDays: periodDays,
		Active:               true,
	}
}

func threeTiers(goldCriteria ...TierCriteria) *stubTiers {
	return &stubTiers{tiers: []*Tier{
		{ID: uuid.New(), Name: "Bronze", Level: 1, Active: true},
		{ID: uuid.New(), Name: "Silver", Level: 2, Active: true},
		{ID: uuid.New(), Name: "Gold", Level: 3, Active: true, Criteria: goldCriteria},
	}}
}

func testMembership() *Membership {
	now := time.Now().UTC()
	return &Membership{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Status:    StatusActive,
		StartDate: now.AddDate(0, 0, -100),
		EndDate:   now.AddDate(0, 0, 265),
	}
}

func TestEvaluateTierPicksHighestQualifying(t *testing.T) {
	tiers := threeTiers(orderCountCriteria(10, 30))
	orders := &stubOrders{count: 12}
	e := NewTierEvaluator(tiers, orders, &stubCohorts{})

	tier, err := e.EvaluateTier(context.Background(), uuid.New(), testMembership())
	require.NoError(t, err)
	assert.Equal(t, "Gold", tier.Name)
}

func TestEvaluateTierFallsThroughToFirstPassingTier(t *testing.T) {
	tiers := threeTiers(orderCountCriteria(10, 30))
	orders := &stubOrders{count: 3}
	e := NewTierEvaluator(tiers, orders, &stubCohorts{})

	tier, err := e.EvaluateTier(context.Background(), uuid.New(), testMembership())
	require.NoError(t, err)
	assert.Equal(t, "Silver", tier.Name, "Silver has no criteria, so it is the first tier below Gold that passes")
}

func TestEvaluateTierFloorFallback(t *testing.T) {
	// Every tier gates on criteria the user fails; the lowest tier is the floor.
	gate := orderCountCriteria(10, 30)
	tiers := &stubTiers{tiers: []*Tier{
		{ID: uuid.New(), Name: "Bronze", Level: 1, Active: true, Criteria: []TierCriteria{gate}},
		{ID: uuid.New(), Name: "Gold", Level: 3, Active: true, Criteria: []TierCriteria{gate}},
	}}
	e := NewTierEvaluator(tiers, &stubOrders{count: 0}, &stubCohorts{})

	tier, err := e.EvaluateTier(context.Background(), uuid.New(), testMembership())
	require.NoError(t, err)
	assert.Equal(t, "Bronze", tier.Name)
}

func TestEvaluateTierUnknownCriteriaFailClosed(t *testing.T) {
	tiers := threeTiers(TierCriteria{Type: CriteriaType("MYSTERY"), Active: true})
	e := NewTierEvaluator(tiers, &stubOrders{}, &stubCohorts{})

	tier, err := e.EvaluateTier(context.Background(), uuid.New(), testMembership())
	require.NoError(t, err)
	assert.Equal(t, "Silver", tier.Name)
}

func TestEvaluateTierInactiveCriteriaIgnored(t *testing.T) {
	gate := orderCountCriteria(10, 30)
	gate.Active = false
	tiers := threeTiers(gate)
	e := NewTierEvaluator(tiers, &stubOrders{count: 0}, &stubCohorts{})

	tier, err := e.EvaluateTier(context.Background(), uuid.New(), testMembership())
	require.NoError(t, err)
	assert.Equal(t, "Gold", tier.Name)
}

func TestEvaluateTierCohortAndDurationAndSpending(t *testing.T) {
	tiers := threeTiers(
		TierCriteria{Type: CriteriaUserCohort, CohortName: "vip", Active: true},
		TierCriteria{Type: CriteriaMembershipDuration, Threshold: decimal.NewFromInt(90), Active: true},
		TierCriteria{Type: CriteriaCumulativeSpending, Threshold: decimal.NewFromInt(5000), Active: true},
	)
	orders := &stubOrders{spending: decimal.NewFromInt(7500)}
	cohorts := &stubCohorts{cohorts: map[string]bool{"vip": true}}
	e := NewTierEvaluator(tiers, orders, cohorts)

	// 100 days of membership, vip cohort, 7500 spent: all three criteria hold.
	tier, err := e.EvaluateTier(context.Background(), uuid.New(), testMembership())
	require.NoError(t, err)
	assert.Equal(t, "Gold", tier.Name)

	cohorts.cohorts["vip"] = false
	tier, err = e.EvaluateTier(context.Background(), uuid.New(), testMembership())
	require.NoError(t, err)
	assert.Equal(t, "Silver", tier.Name)
}

func TestEvaluateTierFractionalThresholdIsNotTruncated(t *testing.T) {
	tiers := threeTiers(TierCriteria{
		Type:                 CriteriaMinOrderCount,
		Threshold:            decimal.RequireFromString("10.5"),
		EvaluationPeriodDays: 30,
		Active:               true,
	})

	tier, err := NewTierEvaluator(tiers, &stubOrders{count: 10}, &stubCohorts{}).
		EvaluateTier(context.Background(), uuid.New(), testMembership())
	require.NoError(t, err)
	assert.Equal(t, "Silver", tier.Name, "10 orders do not clear a 10.5 threshold")

	tier, err = NewTierEvaluator(tiers, &stubOrders{count: 11}, &stubCohorts{}).
		EvaluateTier(context.Background(), uuid.New(), testMembership())
	require.NoError(t, err)
	assert.Equal(t, "Gold", tier.Name)
}

func TestEvaluateTierMinOrderValue(t *testing.T) {
	tiers := threeTiers(TierCriteria{
		Type:                 CriteriaMinOrderValue,
		Threshold:            decimal.NewFromInt(1000),
		EvaluationPeriodDays: 30,
		Active:               true,
	})
	e := NewTierEvaluator(tiers, &stubOrders{total: decimal.NewFromInt(1000)}, &stubCohorts{})

	tier, err := e.EvaluateTier(context.Background(), uuid.New(), testMembership())
	require.NoError(t, err)
	assert.Equal(t, "Gold", tier.Name, "threshold is inclusive")
}

func TestEvaluateTierEmptyTierSetIsConfigurationError(t *testing.T) {
	e := NewTierEvaluator(&stubTiers{}, &stubOrders{}, &stubCohorts{})

	_, err := e.EvaluateTier(context.Background(), uuid.New(), testMembership())
	assert.ErrorIs(t, err, ErrNoActiveTiers)
}

func TestEvaluateTierPropagatesSourceErrors(t *testing.T) {
	tiers := threeTiers(orderCountCriteria(10, 30))
	srcErr := errors.New("order service unavailable")
	e := NewTierEvaluator(tiers, &stubOrders{err: srcErr}, &stubCohorts{})

	_, err := e.EvaluateTier(context.Background(), uuid.New(), testMembership())
	assert.ErrorIs(t, err, srcErr)
}
