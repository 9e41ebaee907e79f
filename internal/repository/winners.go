package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
)

// WinnersRepository stores the settlement commitment of finalized events.
type WinnersRepository struct {
	q db.Querier
}

// NewWinnersRepository creates a new WinnersRepository instance.
func NewWinnersRepository(q db.Querier) *WinnersRepository {
	return &WinnersRepository{q: q}
}

// WithTx returns a repository bound to tx.
func (r *WinnersRepository) WithTx(tx pgx.Tx) *WinnersRepository {
	return &WinnersRepository{q: tx}
}

// Create records the winners of an event. Returns ErrWinnersExist if the
// event already has a record.
func (r *WinnersRepository) Create(ctx context.Context, w *model.EventWinners) (*model.EventWinners, error) {
	const query = `
		INSERT INTO event_winners (event_id, merkle_root, winners, proofs)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	winners, err := json.Marshal(w.Winners)
	if err != nil {
		return nil, fmt.Errorf("failed to encode winners: %w", err)
	}
	proofs, err := json.Marshal(w.Proofs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proofs: %w", err)
	}

	out := *w
	if err := r.q.QueryRow(ctx, query, w.EventID, w.MerkleRoot, string(winners), string(proofs)).Scan(&out.CreatedAt); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, ErrWinnersExist
		}
		return nil, fmt.Errorf("failed to create event winners: %w", err)
	}
	return &out, nil
}

// Get retrieves the winners record of an event.
func (r *WinnersRepository) Get(ctx context.Context, eventID string) (*model.EventWinners, error) {
	const query = `
		SELECT event_id, merkle_root, winners, proofs, created_at
		FROM event_winners
		WHERE event_id = $1
	`

	var (
		w               model.EventWinners
		winners, proofs []byte
	)
	err := r.q.QueryRow(ctx, query, eventID).Scan(&w.EventID, &w.MerkleRoot, &winners, &proofs, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWinnersNotFound
		}
		return nil, fmt.Errorf("failed to get event winners: %w", err)
	}

	if err := json.Unmarshal(winners, &w.Winners); err != nil {
		return nil, fmt.Errorf("failed to decode winners: %w", err)
	}
	if err := json.Unmarshal(proofs, &w.Proofs); err != nil {
		return nil, fmt.Errorf("failed to decode proofs: %w", err)
	}
	return &w, nil
}

// CreateChampion records the rank-1 address of an event.
func (r *WinnersRepository) CreateChampion(ctx context.Context, c *model.Champion) error {
	const query = `
		INSERT INTO champions (event_id, address, score)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`

	if _, err := r.q.Exec(ctx, query, c.EventID, c.Address, c.Score); err != nil {
		return fmt.Errorf("failed to create champion: %w", err)
	}
	return nil
}

// GetChampion retrieves the champion of an event.
func (r *WinnersRepository) GetChampion(ctx context.Context, eventID string) (*model.Champion, error) {
	const query = `SELECT event_id, address, score, created_at FROM champions WHERE event_id = $1`

	var c model.Champion
	err := r.q.QueryRow(ctx, query, eventID).Scan(&c.EventID, &c.Address, &c.Score, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWinnersNotFound
		}
		return nil, fmt.Errorf("failed to get champion: %w", err)
	}
	return &c, nil
}
