// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// MembershipSource lists the users whose tiers are due for re-evaluation.
type MembershipSource interface {
	ListActiveUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// TierUpdater applies a tier re-evaluation for one user. The lifecycle
// service implements this, so every bulk update runs through the same
// per-user lock and ledger write as an interactive call.
type TierUpdater interface {
	EvaluateAndUpdateTier(ctx context.Context, userID uuid.UUID) error
}

const (
	defaultMaxConcurrent = 16
	defaultRunTimeout    = 5 * time.Minute
)

// Config tunes the bulk evaluator. Zero values select defaults.
type Config struct {
	// MaxConcurrent bounds how many users are evaluated in parallel.
	MaxConcurrent int

	// RatePerSecond throttles evaluations against the order/cohort sources.
	// Zero means unthrottled.
	RatePerSecond float64

	// RunTimeout bounds one full pass.
	RunTimeout time.Duration
}

// BulkEvaluator drives tier re-evaluation across all active memberships on a
// cron schedule. Each user is evaluated independently; one user's failure is
// logged and never aborts the rest of the pass.
type BulkEvaluator struct {
	members MembershipSource
	updater TierUpdater
	limit   int
	limiter *rate.Limiter
	timeout time.Duration
	cron    *cron.Cron
}

func New(members MembershipSource, updater TierUpdater, cfg Config) *BulkEvaluator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &BulkEvaluator{
		members: members,
		updater: updater,
		limit:   cfg.MaxConcurrent,
		limiter: limiter,
		timeout: cfg.RunTimeout,
		cron:    cron.New(),
	}
}

// RunOnce evaluates every active membership and reports how many users were
// processed and how many failed.
func (b *BulkEvaluator) RunOnce(ctx context.Context) (evaluated, failed int, err error) {
	userIDs, err := b.members.ListActiveUserIDs(ctx)
	if err != nil {
		return 0, 0, err
	}

	var failures atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(b.limit)

	for _, userID := range userIDs {
		g.Go(func() error {
			if err := b.limiter.Wait(ctx); err != nil {
				failures.Add(1)
				return nil
			}
			if err := b.updater.EvaluateAndUpdateTier(ctx, userID); err != nil {
				failures.Add(1)
				log.Printf("tier evaluation failed for user %s: %v", userID, err)
			}
			return nil
		})
	}
	g.Wait()

	return len(userIDs), int(failures.Load()), nil
}

// Start schedules the bulk pass with the given cron expression (standard
// five-field syntax, e.g. "0 2 * * *" for daily at 02:00).
func (b *BulkEvaluator) Start(spec string) error {
	_, err := b.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		log.Printf("starting bulk tier evaluation")
		evaluated, failed, err := b.RunOnce(ctx)
		if err != nil {
			log.Printf("bulk tier evaluation aborted: %v", err)
			return
		}
		log.Printf("bulk tier evaluation finished: %d evaluated, %d failed", evaluated, failed)
	})
	if err != nil {
		return err
	}
	b.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (b *BulkEvaluator) Stop() {
	<-b.cron.Stop().Done()
}
