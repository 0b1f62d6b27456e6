// internal/store/catalog_store.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"firstclub/internal/membership"
)

// CatalogStore reads the plan and tier catalog. Authoring happens elsewhere;
// this service only needs lookups.
type CatalogStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewCatalogStore(db *sqlx.DB) *CatalogStore {
	return &CatalogStore{
		db:     db,
		tracer: otel.Tracer("firstclub/store"),
	}
}

func (s *CatalogStore) GetPlan(ctx context.Context, id uuid.UUID) (*membership.Plan, error) {
	ctx, span := s.tracer.Start(ctx, "catalog_store.get_plan",
		trace.WithAttributes(attribute.String("plan.id", id.String())),
	)
	defer span.End()

	var p membership.Plan
	err := s.db.GetContext(ctx, &p, `
		SELECT id, name, duration, price, active FROM plans WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, membership.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}
	return &p, nil
}

func (s *CatalogStore) GetTier(ctx context.Context, id uuid.UUID) (*membership.Tier, error) {
	ctx, span := s.tracer.Start(ctx, "catalog_store.get_tier",
		trace.WithAttributes(attribute.String("tier.id", id.String())),
	)
	defer span.End()

	var t membership.Tier
	err := s.db.GetContext(ctx, &t, `
		SELECT id, name, level, active FROM tiers WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, membership.ErrTierNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tier: %w", err)
	}

	if err := s.loadTierDetails(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *CatalogStore) ListActiveTiers(ctx context.Context) ([]*membership.Tier, error) {
	ctx, span := s.tracer.Start(ctx, "catalog_store.list_active_tiers")
	defer span.End()

	var tiers []*membership.Tier
	err := s.db.SelectContext(ctx, &tiers, `
		SELECT id, name, level, active FROM tiers WHERE active ORDER BY level DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tiers: %w", err)
	}

	for _, t := range tiers {
		if err := s.loadTierDetails(ctx, t); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("tiers.active", len(tiers)))
	return tiers, nil
}

func (s *CatalogStore) loadTierDetails(ctx context.Context, t *membership.Tier) error {
	if err := s.db.SelectContext(ctx, &t.Benefits, `
		SELECT id, tier_id, type, value, description, active
		FROM tier_benefits WHERE tier_id = $1
		ORDER BY id
	`, t.ID); err != nil {
		return fmt.Errorf("query tier benefits: %w", err)
	}

	if err := s.db.SelectContext(ctx, &t.Criteria, `
		SELECT id, tier_id, type, threshold, cohort_name, evaluation_period_days, active
		FROM tier_criteria WHERE tier_id = $1
		ORDER BY id
	`, t.ID); err != nil {
		return fmt.Errorf("query tier criteria: %w", err)
	}
	return nil
}
