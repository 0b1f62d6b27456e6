// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"firstclub/pkg/keylock"
)

const (
	defaultPaymentTimeout = 30 * time.Second
	defaultCacheSize      = 4096
	defaultLockShards     = 256

	conflictRetryAttempts = 3
	conflictRetryDelay    = 100 * time.Millisecond

	defaultHistoryPageSize = 20
	maxHistoryPageSize     = 100
)

// Config tunes the lifecycle manager. Zero values select the defaults above.
type Config struct {
	// PaymentTimeout bounds the in-lock wait on the payment gateway. A slow
	// gateway holds the user's lock for at most this long.
	PaymentTimeout time.Duration

	// CacheSize bounds the current-membership read cache (entries).
	CacheSize int

	// LockShards sizes the per-user lock registry.
	LockShards int
}

func (c Config) withDefaults() Config {
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = defaultPaymentTimeout
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.LockShards <= 0 {
		c.LockShards = defaultLockShards
	}
	return c
}

// service implements the Service interface.
type service struct {
	memberships MembershipRepository
	plans       PlanLookup
	tiers       TierLookup
	ledger      Ledger
	payments    PaymentGateway
	evaluator   *TierEvaluator

	locks          *keylock.Registry
	cache          *lru.Cache[uuid.UUID, *Membership]
	paymentTimeout time.Duration
	tracer         trace.Tracer
}

// NewService creates a new membership lifecycle service instance.
func NewService(
	memberships MembershipRepository,
	plans PlanLookup,
	tiers TierLookup,
	ledger Ledger,
	payments PaymentGateway,
	evaluator *TierEvaluator,
	cfg Config,
) Service {
	cfg = cfg.withDefaults()
	cache, err := lru.New[uuid.UUID, *Membership](cfg.CacheSize)
	if err != nil {
		// lru.New only errors on a non-positive size, ruled out by withDefaults.
		panic(err)
	}
	return &service{
		memberships:    memberships,
		plans:          plans,
		tiers:          tiers,
		ledger:         ledger,
		payments:       payments,
		evaluator:      evaluator,
		locks:          keylock.New(cfg.LockShards),
		cache:          cache,
		paymentTimeout: cfg.PaymentTimeout,
		tracer:         otel.Tracer("firstclub/membership"),
	}
}

// withConflictRetry re-runs op on revision conflicts with a fixed backoff.
// Any other error aborts immediately; an exhausted retry budget surfaces the
// final ErrConflict to the caller.
func (s *service) withConflictRetry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if errors.Is(err, ErrConflict) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(conflictRetryDelay)),
		backoff.WithMaxTries(conflictRetryAttempts),
	)
	return err
}

func (s *service) Subscribe(ctx context.Context, userID, planID, tierID uuid.UUID, autoRenew bool) (*Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.subscribe",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	unlock := s.locks.Lock(userID.String())
	defer unlock()

	var result *Membership
	err := s.withConflictRetry(ctx, func() error {
		m, err := s.subscribeLocked(ctx, userID, planID, tierID, autoRenew)
		result = m
		return err
	})
	return result, err
}

func (s *service) subscribeLocked(ctx context.Context, userID, planID, tierID uuid.UUID, autoRenew bool) (*Membership, error) {
	if _, err := s.memberships.FindOpenByUser(ctx, userID); err == nil {
		return nil, ErrAlreadyActive
	} else if !errors.Is(err, ErrMembershipNotFound) {
		return nil, fmt.Errorf("check existing membership: %w", err)
	}

	plan, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	tier, err := s.tiers.GetTier(ctx, tierID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &Membership{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    plan.ID,
		TierID:    tier.ID,
		Status:    StatusPendingPayment,
		StartDate: now,
		EndDate:   now.AddDate(0, plan.Duration.Months(), 0),
		AutoRenew: autoRenew,
	}

	// The row is persisted before the payment result is known so a failed
	// attempt stays auditable.
	if err := s.memberships.Insert(ctx, m); err != nil {
		return nil, err
	}

	// Dispatch payment without blocking membership construction, then wait
	// for the result. The user lock stays held throughout.
	payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	type outcome struct {
		result *PaymentResult
		err    error
	}
	payCh := make(chan outcome, 1)
	go func() {
		res, err := s.payments.ProcessPayment(payCtx, userID, plan.Price)
		payCh <- outcome{result: res, err: err}
	}()

	var pay outcome
	select {
	case pay = <-payCh:
	case <-payCtx.Done():
		pay = outcome{err: payCtx.Err()}
	}

	if pay.err != nil || !pay.result.Succeeded {
		m.Status = StatusCancelled
		if uerr := s.memberships.Update(ctx, m); uerr != nil {
			return nil, fmt.Errorf("record failed payment: %w", uerr)
		}
		if pay.err != nil {
			if errors.Is(pay.err, ErrPaymentUnavailable) {
				return nil, pay.err
			}
			return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, pay.err)
		}
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, pay.result.Message)
	}

	m.Status = StatusActive
	if err := s.memberships.UpdateRecorded(ctx, m, &Transaction{
		MembershipID: m.ID,
		Type:         TransactionSubscription,
		Amount:       plan.Price,
		NewPlanID:    &plan.ID,
		NewTierID:    &tier.ID,
		Notes:        "payment reference " + pay.result.Reference,
	}); err != nil {
		return nil, err
	}
	s.cache.Remove(userID)
	log.Printf("membership %s created for user %s (plan %s, tier %s)", m.ID, userID, plan.Name, tier.Name)
	return m, nil
}

func (s *service) Upgrade(ctx context.Context, userID, newPlanID, newTierID uuid.UUID) (*Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.upgrade",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	unlock := s.locks.Lock(userID.String())
	defer unlock()

	var result *Membership
	err := s.withConflictRetry(ctx, func() error {
		m, err := s.changePlanLocked(ctx, userID, newPlanID, newTierID, true)
		result = m
		return err
	})
	return result, err
}

func (s *service) Downgrade(ctx context.Context, userID, newPlanID, newTierID uuid.UUID) (*Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.downgrade",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	unlock := s.locks.Lock(userID.String())
	defer unlock()

	var result *Membership
	err := s.withConflictRetry(ctx, func() error {
		m, err := s.changePlanLocked(ctx, userID, newPlanID, newTierID, false)
		result = m
		return err
	})
	return result, err
}

// changePlanLocked is the shared upgrade/downgrade path. Upgrades charge the
// prorated difference and restart the billing window from the start date;
// downgrades are free and keep the remaining paid time by extending from the
// current end date.
func (s *service) changePlanLocked(ctx context.Context, userID, newPlanID, newTierID uuid.UUID, upgrade bool) (*Membership, error) {
	m, err := s.memberships.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	newPlan, err := s.plans.GetPlan(ctx, newPlanID)
	if err != nil {
		return nil, err
	}
	newTier, err := s.tiers.GetTier(ctx, newTierID)
	if err != nil {
		return nil, err
	}
	curPlan, err := s.plans.GetPlan(ctx, m.PlanID)
	if err != nil {
		return nil, err
	}
	curTier, err := s.tiers.GetTier(ctx, m.TierID)
	if err != nil {
		return nil, err
	}

	if upgrade && newTier.Level <= curTier.Level {
		return nil, fmt.Errorf("%w: can only upgrade to a higher tier", ErrInvalidOperation)
	}
	if !upgrade && newTier.Level >= curTier.Level {
		return nil, fmt.Errorf("%w: can only downgrade to a lower tier", ErrInvalidOperation)
	}

	amount := decimal.Zero
	txType := TransactionDowngrade
	note := fmt.Sprintf("downgrade from %s to %s", curTier.Name, newTier.Name)
	if upgrade {
		amount = ProratedCharge(curPlan.Price, m.StartDate, m.EndDate, time.Now().UTC(), newPlan.Price)
		txType = TransactionUpgrade
		note = fmt.Sprintf("upgrade from %s to %s", curTier.Name, newTier.Name)

		pay, err := s.collectPayment(ctx, userID, amount)
		if err != nil {
			return nil, err
		}
		note += ", payment reference " + pay.Reference
	}

	oldPlanID, oldTierID := m.PlanID, m.TierID
	m.PlanID = newPlan.ID
	m.TierID = newTier.ID
	if upgrade {
		m.EndDate = m.StartDate.AddDate(0, newPlan.Duration.Months(), 0)
	} else {
		m.EndDate = m.EndDate.AddDate(0, newPlan.Duration.Months(), 0)
	}

	if err := s.memberships.UpdateRecorded(ctx, m, &Transaction{
		MembershipID: m.ID,
		Type:         txType,
		Amount:       amount,
		OldPlanID:    &oldPlanID,
		NewPlanID:    &newPlan.ID,
		OldTierID:    &oldTierID,
		NewTierID:    &newTier.ID,
		Notes:        note,
	}); err != nil {
		return nil, err
	}
	s.cache.Remove(userID)
	log.Printf("membership %s for user %s moved from tier %s to %s", m.ID, userID, curTier.Name, newTier.Name)
	return m, nil
}

// collectPayment runs the gateway call under the payment timeout and folds
// declines and transport failures into ErrPaymentFailed.
func (s *service) collectPayment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*PaymentResult, error) {
	payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	res, err := s.payments.ProcessPayment(payCtx, userID, amount)
	if err != nil {
		if errors.Is(err, ErrPaymentUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}
	if !res.Succeeded {
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, res.Message)
	}
	return res, nil
}

func (s *service) Cancel(ctx context.Context, userID uuid.UUID) (*Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.cancel",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	unlock := s.locks.Lock(userID.String())
	defer unlock()

	var result *Membership
	err := s.withConflictRetry(ctx, func() error {
		m, err := s.cancelLocked(ctx, userID)
		result = m
		return err
	})
	return result, err
}

func (s *service) cancelLocked(ctx context.Context, userID uuid.UUID) (*Membership, error) {
	m, err := s.memberships.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	oldPlanID, oldTierID := m.PlanID, m.TierID
	m.Status = StatusCancelled
	m.AutoRenew = false

	if err := s.memberships.UpdateRecorded(ctx, m, &Transaction{
		MembershipID: m.ID,
		Type:         TransactionCancellation,
		Amount:       decimal.Zero,
		OldPlanID:    &oldPlanID,
		OldTierID:    &oldTierID,
		Notes:        "user initiated cancellation",
	}); err != nil {
		return nil, err
	}
	s.cache.Remove(userID)
	log.Printf("membership %s cancelled for user %s", m.ID, userID)
	return m, nil
}

func (s *service) GetCurrentMembership(ctx context.Context, userID uuid.UUID) (*Membership, error) {
	if m, ok := s.cache.Get(userID); ok {
		return m, nil
	}

	m, err := s.memberships.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(userID, m)
	return m, nil
}

func (s *service) EvaluateAndUpdateTier(ctx context.Context, userID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "membership.evaluate_tier",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	unlock := s.locks.Lock(userID.String())
	defer unlock()

	return s.withConflictRetry(ctx, func() error {
		return s.evaluateTierLocked(ctx, userID)
	})
}

func (s *service) evaluateTierLocked(ctx context.Context, userID uuid.UUID) error {
	m, err := s.memberships.FindActiveByUser(ctx, userID)
	if errors.Is(err, ErrMembershipNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	newTier, err := s.evaluator.EvaluateTier(ctx, userID, m)
	if err != nil {
		return err
	}
	if newTier.ID == m.TierID {
		return nil
	}

	curTier, err := s.tiers.GetTier(ctx, m.TierID)
	if err != nil {
		return err
	}

	oldTierID := m.TierID
	m.TierID = newTier.ID
	if err := s.memberships.UpdateRecorded(ctx, m, &Transaction{
		MembershipID: m.ID,
		Type:         TransactionTierChange,
		Amount:       decimal.Zero,
		OldTierID:    &oldTierID,
		NewTierID:    &newTier.ID,
		Notes:        "automatic tier evaluation",
	}); err != nil {
		return err
	}
	s.cache.Remove(userID)
	log.Printf("tier updated for user %s from %s to %s", userID, curTier.Name, newTier.Name)
	return nil
}

func (s *service) GetUserBenefits(ctx context.Context, userID uuid.UUID) ([]TierBenefit, error) {
	m, err := s.GetCurrentMembership(ctx, userID)
	if err != nil {
		return nil, err
	}
	tier, err := s.tiers.GetTier(ctx, m.TierID)
	if err != nil {
		return nil, err
	}
	return tier.ActiveBenefits(), nil
}

func (s *service) GetTransactionHistory(ctx context.Context, userID uuid.UUID, page, size int) ([]*Transaction, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultHistoryPageSize
	}
	if size > maxHistoryPageSize {
		size = maxHistoryPageSize
	}

	// History is scoped to the user's most recent membership; cancelled
	// predecessors keep their own ledgers.
	m, err := s.memberships.FindLatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListByMembership(ctx, m.ID, page, size)
}
