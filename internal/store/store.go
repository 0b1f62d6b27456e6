// internal/store/store.go
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Open connects to postgres and verifies the connection.
func Open(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	duration TEXT NOT NULL,
	price NUMERIC(12,2) NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS tiers (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	level INT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS tier_benefits (
	id BIGSERIAL PRIMARY KEY,
	tier_id UUID NOT NULL REFERENCES tiers(id),
	type TEXT NOT NULL,
	value NUMERIC(12,2) NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS tier_criteria (
	id BIGSERIAL PRIMARY KEY,
	tier_id UUID NOT NULL REFERENCES tiers(id),
	type TEXT NOT NULL,
	threshold NUMERIC(12,2) NOT NULL DEFAULT 0,
	cohort_name TEXT NOT NULL DEFAULT '',
	evaluation_period_days INT NOT NULL DEFAULT 30,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS memberships (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	plan_id UUID NOT NULL REFERENCES plans(id),
	tier_id UUID NOT NULL REFERENCES tiers(id),
	status TEXT NOT NULL,
	start_date TIMESTAMPTZ NOT NULL,
	end_date TIMESTAMPTZ NOT NULL,
	auto_renew BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	revision INT NOT NULL DEFAULT 0,
	CONSTRAINT membership_period CHECK (end_date > start_date)
);

-- One open membership per user, enforced at the storage layer as well as in
-- the lifecycle manager.
CREATE UNIQUE INDEX IF NOT EXISTS memberships_one_open_per_user
	ON memberships(user_id)
	WHERE status IN ('ACTIVE', 'PENDING_PAYMENT');

CREATE TABLE IF NOT EXISTS membership_transactions (
	id BIGSERIAL PRIMARY KEY,
	membership_id UUID NOT NULL REFERENCES memberships(id),
	type TEXT NOT NULL,
	amount NUMERIC(12,2) NOT NULL,
	old_plan_id UUID REFERENCES plans(id),
	new_plan_id UUID REFERENCES plans(id),
	old_tier_id UUID REFERENCES tiers(id),
	new_tier_id UUID REFERENCES tiers(id),
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS membership_transactions_by_membership
	ON membership_transactions(membership_id, created_at DESC);
`

// EnsureSchema creates the tables this service owns.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
