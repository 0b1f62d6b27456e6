// internal/store/membership_store.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"firstclub/internal/membership"
)

// MembershipStore is the postgres-backed MembershipRepository.
type MembershipStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewMembershipStore(db *sqlx.DB) *MembershipStore {
	return &MembershipStore{
		db:     db,
		tracer: otel.Tracer("firstclub/store"),
	}
}

func (s *MembershipStore) Insert(ctx context.Context, m *membership.Membership) error {
	ctx, span := s.tracer.Start(ctx, "membership_store.insert",
		trace.WithAttributes(attribute.String("membership.id", m.ID.String())),
	)
	defer span.End()

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Revision = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (id, user_id, plan_id, tier_id, status, start_date, end_date, auto_renew, created_at, updated_at, revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.ID, m.UserID, m.PlanID, m.TierID, m.Status, m.StartDate, m.EndDate, m.AutoRenew, m.CreatedAt, m.UpdatedAt, m.Revision)
	if err != nil {
		// The partial unique index rejects a second open membership.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return membership.ErrAlreadyActive
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// Update writes the mutable fields under a repeatable-read transaction with a
// revision check, so a concurrent writer cannot slip between the read and the
// write unnoticed.
func (s *MembershipStore) Update(ctx context.Context, m *membership.Membership) error {
	ctx, span := s.tracer.Start(ctx, "membership_store.update",
		trace.WithAttributes(
			attribute.String("membership.id", m.ID.String()),
			attribute.Int("membership.revision", m.Revision),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateMembership(ctx, tx, m); err != nil {
		if errors.Is(err, membership.ErrConflict) {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	m.Revision++
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateRecorded applies the membership update and its ledger entry in the
// same transaction, so a ledger failure cannot leave a durable unrecorded
// change behind.
func (s *MembershipStore) UpdateRecorded(ctx context.Context, m *membership.Membership, entry *membership.Transaction) error {
	ctx, span := s.tracer.Start(ctx, "membership_store.update_recorded",
		trace.WithAttributes(
			attribute.String("membership.id", m.ID.String()),
			attribute.Int("membership.revision", m.Revision),
			attribute.String("transaction.type", string(entry.Type)),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateMembership(ctx, tx, m); err != nil {
		if errors.Is(err, membership.ErrConflict) {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
		}
		return err
	}
	if err := appendTransaction(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	m.Revision++
	m.UpdatedAt = time.Now().UTC()
	span.SetAttributes(attribute.Int64("transaction.id", entry.ID))
	return nil
}

// updateMembership runs the revision-checked UPDATE on q. Zero rows affected
// means a concurrent writer got there first.
func updateMembership(ctx context.Context, q sqlx.ExtContext, m *membership.Membership) error {
	res, err := q.ExecContext(ctx, `
		UPDATE memberships
		SET plan_id = $1, tier_id = $2, status = $3, end_date = $4, auto_renew = $5,
		    updated_at = NOW(), revision = revision + 1
		WHERE id = $6 AND revision = $7
	`, m.PlanID, m.TierID, m.Status, m.EndDate, m.AutoRenew, m.ID, m.Revision)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return membership.ErrConflict
	}
	return nil
}

func (s *MembershipStore) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*membership.Membership, error) {
	return s.findByUser(ctx, userID, `status = 'ACTIVE'`)
}

func (s *MembershipStore) FindOpenByUser(ctx context.Context, userID uuid.UUID) (*membership.Membership, error) {
	return s.findByUser(ctx, userID, `status IN ('ACTIVE', 'PENDING_PAYMENT')`)
}

func (s *MembershipStore) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*membership.Membership, error) {
	return s.findByUser(ctx, userID, `TRUE`)
}

func (s *MembershipStore) findByUser(ctx context.Context, userID uuid.UUID, cond string) (*membership.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership_store.find_by_user",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	var m membership.Membership
	err := s.db.GetContext(ctx, &m, `
		SELECT id, user_id, plan_id, tier_id, status, start_date, end_date, auto_renew, created_at, updated_at, revision
		FROM memberships
		WHERE user_id = $1 AND `+cond+`
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, membership.ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query membership: %w", err)
	}
	return &m, nil
}

func (s *MembershipStore) ListActiveUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	ctx, span := s.tracer.Start(ctx, "membership_store.list_active_users")
	defer span.End()

	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT user_id FROM memberships WHERE status = 'ACTIVE'
	`)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	span.SetAttributes(attribute.Int("memberships.active", len(ids)))
	return ids, nil
}
