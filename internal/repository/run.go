package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
)

// RunRepository handles accepted runs.
type RunRepository struct {
	q db.Querier
}

// NewRunRepository creates a new RunRepository instance.
func NewRunRepository(q db.Querier) *RunRepository {
	return &RunRepository{q: q}
}

// WithTx returns a repository bound to tx.
func (r *RunRepository) WithTx(tx pgx.Tx) *RunRepository {
	return &RunRepository{q: tx}
}

// Create records a run. Returns ErrDuplicateRun if the start token was
// already used.
func (r *RunRepository) Create(ctx context.Context, run *model.Run) (*model.Run, error) {
	const query = `
		INSERT INTO runs (start_token, event_id, address, seed, started_at, score, tap_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	out := *run
	err := r.q.QueryRow(ctx, query,
		run.StartToken, run.EventID, run.Address, run.Seed, run.StartedAt, run.Score, run.TapCount,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, db.ConstraintRunStartToken) {
			return nil, ErrDuplicateRun
		}
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &out, nil
}

// ExistsByToken reports whether a run was recorded for startToken.
func (r *RunRepository) ExistsByToken(ctx context.Context, startToken string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM runs WHERE start_token = $1)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, startToken).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check run: %w", err)
	}
	return exists, nil
}

// GetByToken retrieves the run recorded for startToken.
func (r *RunRepository) GetByToken(ctx context.Context, startToken string) (*model.Run, error) {
	const query = `
		SELECT id, start_token, event_id, address, seed, started_at, score, tap_count, created_at
		FROM runs
		WHERE start_token = $1
	`

	var run model.Run
	err := r.q.QueryRow(ctx, query, startToken).Scan(
		&run.ID,
		&run.StartToken,
		&run.EventID,
		&run.Address,
		&run.Seed,
		&run.StartedAt,
		&run.Score,
		&run.TapCount,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// CountByAddress returns how many runs an address recorded in an event.
func (r *RunRepository) CountByAddress(ctx context.Context, address, eventID string) (int, error) {
	const query = `SELECT COUNT(*) FROM runs WHERE address = $1 AND event_id = $2`

	var n int
	if err := r.q.QueryRow(ctx, query, address, eventID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}
