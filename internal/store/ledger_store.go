// internal/store/ledger_store.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"firstclub/internal/membership"
)

// LedgerStore reads the append-only transaction record. Rows are inserted
// exactly once per lifecycle event, inside the membership update transaction
// (MembershipStore.UpdateRecorded), and never updated or deleted.
type LedgerStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewLedgerStore(db *sqlx.DB) *LedgerStore {
	return &LedgerStore{
		db:     db,
		tracer: otel.Tracer("firstclub/store"),
	}
}

// appendTransaction inserts one ledger row on q. Callers run it inside the
// transaction that carries the membership update.
func appendTransaction(ctx context.Context, q sqlx.ExtContext, tx *membership.Transaction) error {
	tx.CreatedAt = time.Now().UTC()
	err := q.QueryRowxContext(ctx, `
		INSERT INTO membership_transactions (membership_id, type, amount, old_plan_id, new_plan_id, old_tier_id, new_tier_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, tx.MembershipID, tx.Type, tx.Amount, tx.OldPlanID, tx.NewPlanID, tx.OldTierID, tx.NewTierID, tx.Notes, tx.CreatedAt).Scan(&tx.ID)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *LedgerStore) ListByMembership(ctx context.Context, membershipID uuid.UUID, page, size int) ([]*membership.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "ledger_store.list",
		trace.WithAttributes(
			attribute.String("membership.id", membershipID.String()),
			attribute.Int("page", page),
			attribute.Int("size", size),
		),
	)
	defer span.End()

	var txs []*membership.Transaction
	err := s.db.SelectContext(ctx, &txs, `
		SELECT id, membership_id, type, amount, old_plan_id, new_plan_id, old_tier_id, new_tier_id, notes, created_at
		FROM membership_transactions
		WHERE membership_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, membershipID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}

	span.SetAttributes(attribute.Int("transactions.loaded", len(txs)))
	return txs, nil
}
