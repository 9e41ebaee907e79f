package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
)

const entryColumns = `address, event_id, total_score, verification_level, updated_at`

// LeaderboardRepository stores each address's best score per event.
type LeaderboardRepository struct {
	q db.Querier
}

// NewLeaderboardRepository creates a new LeaderboardRepository instance.
func NewLeaderboardRepository(q db.Querier) *LeaderboardRepository {
	return &LeaderboardRepository{q: q}
}

// WithTx returns a repository bound to tx.
func (r *LeaderboardRepository) WithTx(tx pgx.Tx) *LeaderboardRepository {
	return &LeaderboardRepository{q: tx}
}

// Get retrieves an entry without locking it.
func (r *LeaderboardRepository) Get(ctx context.Context, address, eventID string) (*model.LeaderboardEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM leaderboard_entries WHERE address = $1 AND event_id = $2`

	e, err := scanEntry(r.q.QueryRow(ctx, query, address, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get leaderboard entry: %w", err)
	}
	return e, nil
}

// EnsureForUpdate creates a zero entry if needed and locks it.
func (r *LeaderboardRepository) EnsureForUpdate(ctx context.Context, address, eventID string, tier model.VerificationLevel) (*model.LeaderboardEntry, error) {
	const insert = `
		INSERT INTO leaderboard_entries (address, event_id, verification_level)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, event_id) DO NOTHING
	`
	query := `SELECT ` + entryColumns + ` FROM leaderboard_entries WHERE address = $1 AND event_id = $2 FOR UPDATE`

	if _, err := r.q.Exec(ctx, insert, address, eventID, string(tier)); err != nil {
		return nil, fmt.Errorf("failed to ensure leaderboard entry: %w", err)
	}
	e, err := scanEntry(r.q.QueryRow(ctx, query, address, eventID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock leaderboard entry: %w", err)
	}
	return e, nil
}

// SetScore overwrites the best score of a locked entry. The caller decides
// whether the new score is higher.
func (r *LeaderboardRepository) SetScore(ctx context.Context, address, eventID string, score float64, tier model.VerificationLevel) (*model.LeaderboardEntry, error) {
	query := `
		UPDATE leaderboard_entries
		SET total_score = $3, verification_level = $4, updated_at = NOW()
		WHERE address = $1 AND event_id = $2
		RETURNING ` + entryColumns

	e, err := scanEntry(r.q.QueryRow(ctx, query, address, eventID, score, string(tier)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to set score: %w", err)
	}
	return e, nil
}

// DenseRank returns 1 + the number of distinct scores above score.
func (r *LeaderboardRepository) DenseRank(ctx context.Context, eventID string, score float64) (int, error) {
	const query = `
		SELECT COUNT(DISTINCT total_score) + 1
		FROM leaderboard_entries
		WHERE event_id = $1 AND total_score > $2
	`

	var rank int
	if err := r.q.QueryRow(ctx, query, eventID, score).Scan(&rank); err != nil {
		return 0, fmt.Errorf("failed to compute rank: %w", err)
	}
	return rank, nil
}

// Top returns the best limit entries with dense ranks. Equal scores are
// ordered by who reached them first.
func (r *LeaderboardRepository) Top(ctx context.Context, eventID string, limit int) ([]*model.LeaderboardEntry, error) {
	query := `
		SELECT ` + entryColumns + `, DENSE_RANK() OVER (ORDER BY total_score DESC)
		FROM leaderboard_entries
		WHERE event_id = $1
		ORDER BY total_score DESC, updated_at ASC, address ASC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*model.LeaderboardEntry
	for rows.Next() {
		var (
			e    model.LeaderboardEntry
			tier string
		)
		if err := rows.Scan(&e.Address, &e.EventID, &e.TotalScore, &tier, &e.UpdatedAt, &e.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		e.VerificationLevel = model.ParseVerificationLevel(tier)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard: %w", err)
	}
	return entries, nil
}

// Standings returns every entry of an event in final order. It is read
// inside the finalize transaction after the event row is locked, so no run
// can be added concurrently.
func (r *LeaderboardRepository) Standings(ctx context.Context, eventID string) ([]*model.LeaderboardEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM leaderboard_entries
		WHERE event_id = $1
		ORDER BY total_score DESC, updated_at ASC, address ASC
	`

	rows, err := r.q.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get standings: %w", err)
	}
	defer rows.Close()

	var entries []*model.LeaderboardEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating standings: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*model.LeaderboardEntry, error) {
	var (
		e    model.LeaderboardEntry
		tier string
	)
	if err := row.Scan(&e.Address, &e.EventID, &e.TotalScore, &tier, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.VerificationLevel = model.ParseVerificationLevel(tier)
	return &e, nil
}
