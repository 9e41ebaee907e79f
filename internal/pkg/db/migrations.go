package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Constraint names referenced by repositories when mapping unique violations.
const (
	ConstraintRunStartToken = "runs_start_token_key"
	ConstraintIntentTxHash  = "payment_intents_tx_hash_key"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"events table", `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			starts_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ NOT NULL,
			frozen BOOLEAN NOT NULL DEFAULT FALSE,
			frozen_at TIMESTAMPTZ,
			prize_pool_wld NUMERIC(36, 18) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (ends_at > starts_at)
		);
		CREATE INDEX IF NOT EXISTS idx_events_window ON events(starts_at, ends_at);
	`},
	{"credits and try counters", `
		CREATE TABLE IF NOT EXISTS credits (
			address TEXT NOT NULL,
			event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			balance INT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			used BOOLEAN NOT NULL DEFAULT FALSE,
			total_purchased INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (address, event_id)
		);
		CREATE TABLE IF NOT EXISTS try_counters (
			address TEXT NOT NULL,
			event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			count INT NOT NULL DEFAULT 0 CHECK (count >= 0),
			PRIMARY KEY (address, event_id)
		);
	`},
	{"runs table", `
		CREATE TABLE IF NOT EXISTS runs (
			id BIGSERIAL PRIMARY KEY,
			start_token TEXT NOT NULL,
			event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			address TEXT NOT NULL,
			seed TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			tap_count INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT runs_start_token_key UNIQUE (start_token)
		);
		CREATE INDEX IF NOT EXISTS idx_runs_event_address ON runs(event_id, address);
	`},
	{"leaderboard entries", `
		CREATE TABLE IF NOT EXISTS leaderboard_entries (
			address TEXT NOT NULL,
			event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			verification_level TEXT NOT NULL DEFAULT 'device',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (address, event_id)
		);
		CREATE INDEX IF NOT EXISTS idx_leaderboard_event_score ON leaderboard_entries(event_id, total_score DESC);
	`},
	{"payment intents", `
		CREATE TABLE IF NOT EXISTS payment_intents (
			id UUID PRIMARY KEY,
			address TEXT NOT NULL,
			event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			expected_wei NUMERIC(78, 0) NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			mode TEXT NOT NULL DEFAULT 'verified',
			tx_hash TEXT,
			verification_level TEXT NOT NULL,
			start_block BIGINT NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ NOT NULL,
			confirmed_at TIMESTAMPTZ,
			audit_status TEXT NOT NULL DEFAULT 'none',
			audit_note TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT payment_intents_tx_hash_key UNIQUE (tx_hash),
			CHECK (status IN ('pending', 'confirmed', 'expired', 'failed'))
		);
		CREATE INDEX IF NOT EXISTS idx_intents_owner_status ON payment_intents(address, event_id, status);
		CREATE INDEX IF NOT EXISTS idx_intents_pending ON payment_intents(status) WHERE status = 'pending';
	`},
	{"event winners and champions", `
		CREATE TABLE IF NOT EXISTS event_winners (
			event_id TEXT PRIMARY KEY REFERENCES events(id),
			merkle_root TEXT NOT NULL,
			winners JSONB NOT NULL,
			proofs JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS champions (
			event_id TEXT PRIMARY KEY REFERENCES events(id),
			address TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
}

// Migrate applies the schema. Every statement is idempotent, so it runs on
// each startup and from integration tests.
func Migrate(ctx context.Context, q Querier) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := q.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
