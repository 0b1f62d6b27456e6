// internal/store/store_test.go
package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firstclub/internal/membership"
)

// setupTestDB attempts to connect to a PostgreSQL database for testing.
// It skips the test if the connection cannot be established.
func setupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	pgUser := os.Getenv("PGUSER")
	pgPassword := os.Getenv("PGPASSWORD")
	pgHost := os.Getenv("PGHOST")
	pgPort := os.Getenv("PGPORT")
	pgDB := os.Getenv("PGDATABASE")

	if pgUser == "" {
		pgUser = "user"
	}
	if pgPassword == "" {
		pgPassword = "password"
	}
	if pgHost == "" {
		pgHost = "localhost"
	}
	if pgPort == "" {
		pgPort = "5432"
	}
	if pgDB == "" {
		pgDB = "testdb"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("skipping store tests: could not connect to postgres: %v", err)
	}

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}

// fixtures inserts one plan and one tier and returns their IDs. Rows persist
// across runs; names are randomized so reruns never collide.
func fixtures(t *testing.T, db *sqlx.DB) (planID, tierID uuid.UUID) {
	t.Helper()

	planID = uuid.New()
	tierID = uuid.New()

	_, err := db.Exec(`
		INSERT INTO plans (id, name, duration, price, active) VALUES ($1, $2, 'MONTHLY', 1200.00, TRUE)
	`, planID, "plan-"+planID.String())
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO tiers (id, name, level, active) VALUES ($1, $2, 1, TRUE)
	`, tierID, "tier-"+tierID.String())
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO tier_benefits (tier_id, type, value, description, active)
		VALUES ($1, 'FREE_DELIVERY', 0, 'free delivery on all orders', TRUE)
	`, tierID)
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO tier_criteria (tier_id, type, threshold, evaluation_period_days, active)
		VALUES ($1, 'MIN_ORDER_COUNT', 10, 30, TRUE)
	`, tierID)
	require.NoError(t, err)

	return planID, tierID
}

func newMembershipRow(userID, planID, tierID uuid.UUID) *membership.Membership {
	now := time.Now().UTC()
	return &membership.Membership{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    planID,
		TierID:    tierID,
		Status:    membership.StatusActive,
		StartDate: now,
		EndDate:   now.AddDate(0, 1, 0),
		AutoRenew: true,
	}
}

func TestMembershipStoreInsertAndFind(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	planID, tierID := fixtures(t, db)
	store := NewMembershipStore(db)
	ctx := context.Background()

	userID := uuid.New()
	m := newMembershipRow(userID, planID, tierID)
	require.NoError(t, store.Insert(ctx, m))

	found, err := store.FindActiveByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, found.ID)
	assert.Equal(t, membership.StatusActive, found.Status)
	assert.Equal(t, 0, found.Revision)

	_, err = store.FindActiveByUser(ctx, uuid.New())
	assert.ErrorIs(t, err, membership.ErrMembershipNotFound)
}

func TestMembershipStoreRejectsSecondOpenRow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	planID, tierID := fixtures(t, db)
	store := NewMembershipStore(db)
	ctx := context.Background()

	userID := uuid.New()
	require.NoError(t, store.Insert(ctx, newMembershipRow(userID, planID, tierID)))

	second := newMembershipRow(userID, planID, tierID)
	assert.ErrorIs(t, store.Insert(ctx, second), membership.ErrAlreadyActive)

	// A pending row blocks too.
	third := newMembershipRow(userID, planID, tierID)
	third.Status = membership.StatusPendingPayment
	assert.ErrorIs(t, store.Insert(ctx, third), membership.ErrAlreadyActive)
}

func TestMembershipStoreCancelledRowDoesNotBlockResubscribe(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	planID, tierID := fixtures(t, db)
	store := NewMembershipStore(db)
	ctx := context.Background()

	userID := uuid.New()
	first := newMembershipRow(userID, planID, tierID)
	require.NoError(t, store.Insert(ctx, first))

	first.Status = membership.StatusCancelled
	require.NoError(t, store.Update(ctx, first))

	require.NoError(t, store.Insert(ctx, newMembershipRow(userID, planID, tierID)))

	// FindLatestByUser sees the newest row, FindActiveByUser skips cancelled.
	latest, err := store.FindLatestByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, membership.StatusActive, latest.Status)
}

func TestMembershipStoreStaleRevisionConflicts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	planID, tierID := fixtures(t, db)
	store := NewMembershipStore(db)
	ctx := context.Background()

	m := newMembershipRow(uuid.New(), planID, tierID)
	require.NoError(t, store.Insert(ctx, m))

	// Two readers load revision 0; the first write wins.
	stale := *m
	m.AutoRenew = false
	require.NoError(t, store.Update(ctx, m))
	assert.Equal(t, 1, m.Revision)

	stale.AutoRenew = true
	assert.ErrorIs(t, store.Update(ctx, &stale), membership.ErrConflict)

	// The winner at the current revision still goes through.
	m.AutoRenew = true
	require.NoError(t, store.Update(ctx, m))
	assert.Equal(t, 2, m.Revision)
}

func TestLedgerRecordedWithUpdateAndPaginated(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	planID, tierID := fixtures(t, db)
	memberships := NewMembershipStore(db)
	ledger := NewLedgerStore(db)
	ctx := context.Background()

	m := newMembershipRow(uuid.New(), planID, tierID)
	require.NoError(t, memberships.Insert(ctx, m))

	for i, txType := range []membership.TransactionType{
		membership.TransactionSubscription,
		membership.TransactionUpgrade,
		membership.TransactionDowngrade,
	} {
		m.AutoRenew = i%2 == 0
		tx := &membership.Transaction{
			MembershipID: m.ID,
			Type:         txType,
			Amount:       decimal.NewFromInt(int64(i * 100)),
			NewPlanID:    &planID,
			NewTierID:    &tierID,
			Notes:        "test entry",
		}
		require.NoError(t, memberships.UpdateRecorded(ctx, m, tx))
		assert.NotZero(t, tx.ID, "the write returns the generated ledger id")
		assert.Equal(t, i+1, m.Revision)
	}

	page0, err := ledger.ListByMembership(ctx, m.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page0, 2)
	assert.Equal(t, membership.TransactionDowngrade, page0[0].Type, "newest first")
	assert.Equal(t, membership.TransactionUpgrade, page0[1].Type)

	page1, err := ledger.ListByMembership(ctx, m.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 1)
	assert.Equal(t, membership.TransactionSubscription, page1[0].Type)

	empty, err := ledger.ListByMembership(ctx, m.ID, 5, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMembershipStoreUpdateRecordedIsAtomic(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	planID, tierID := fixtures(t, db)
	store := NewMembershipStore(db)
	ledger := NewLedgerStore(db)
	ctx := context.Background()

	m := newMembershipRow(uuid.New(), planID, tierID)
	require.NoError(t, store.Insert(ctx, m))

	// A ledger row referencing a plan that does not exist fails its foreign
	// key, so the membership update must roll back with it.
	missing := uuid.New()
	m.AutoRenew = false
	bad := &membership.Transaction{
		MembershipID: m.ID,
		Type:         membership.TransactionUpgrade,
		Amount:       decimal.NewFromInt(100),
		NewPlanID:    &missing,
	}
	require.Error(t, store.UpdateRecorded(ctx, m, bad))
	assert.Equal(t, 0, m.Revision, "revision does not advance on failure")

	reread, err := store.FindActiveByUser(ctx, m.UserID)
	require.NoError(t, err)
	assert.True(t, reread.AutoRenew, "membership update rolled back with the ledger failure")
	assert.Equal(t, 0, reread.Revision)

	entries, err := ledger.ListByMembership(ctx, m.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The same write with a valid entry lands both effects.
	good := &membership.Transaction{
		MembershipID: m.ID,
		Type:         membership.TransactionUpgrade,
		Amount:       decimal.NewFromInt(100),
		NewPlanID:    &planID,
		NewTierID:    &tierID,
	}
	require.NoError(t, store.UpdateRecorded(ctx, m, good))
	assert.Equal(t, 1, m.Revision)
	assert.NotZero(t, good.ID)

	entries, err = ledger.ListByMembership(ctx, m.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Amount.IsZero())
}

func TestCatalogStore(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	planID, tierID := fixtures(t, db)
	catalog := NewCatalogStore(db)
	ctx := context.Background()

	plan, err := catalog.GetPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, membership.DurationMonthly, plan.Duration)
	assert.True(t, plan.Price.Equal(decimal.RequireFromString("1200.00")))

	_, err = catalog.GetPlan(ctx, uuid.New())
	assert.ErrorIs(t, err, membership.ErrPlanNotFound)

	tier, err := catalog.GetTier(ctx, tierID)
	require.NoError(t, err)
	require.Len(t, tier.Benefits, 1)
	assert.Equal(t, membership.BenefitFreeDelivery, tier.Benefits[0].Type)
	require.Len(t, tier.Criteria, 1)
	assert.Equal(t, membership.CriteriaMinOrderCount, tier.Criteria[0].Type)

	_, err = catalog.GetTier(ctx, uuid.New())
	assert.ErrorIs(t, err, membership.ErrTierNotFound)

	tiers, err := catalog.ListActiveTiers(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tiers)
	for i := 1; i < len(tiers); i++ {
		assert.GreaterOrEqual(t, tiers[i-1].Level, tiers[i].Level, "sorted level descending")
	}
}
