package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
)

const eventColumns = `id, starts_at, ends_at, frozen, frozen_at, prize_pool_wld::text, created_at, updated_at`

// EventRepository handles event persistence.
type EventRepository struct {
	q db.Querier
}

// NewEventRepository creates a new EventRepository instance.
func NewEventRepository(q db.Querier) *EventRepository {
	return &EventRepository{q: q}
}

// WithTx returns a repository bound to tx.
func (r *EventRepository) WithTx(tx pgx.Tx) *EventRepository {
	return &EventRepository{q: tx}
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, id string, startsAt, endsAt time.Time, prizePool decimal.Decimal) (*model.Event, error) {
	query := `
		INSERT INTO events (id, starts_at, ends_at, prize_pool_wld)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + eventColumns

	e, err := scanEvent(r.q.QueryRow(ctx, query, id, startsAt, endsAt, prizePool.String()))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, ErrEventExists
		}
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return e, nil
}

// GetByID retrieves an event.
// Returns ErrEventNotFound if the event does not exist.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate retrieves and exclusively locks an event row.
func (r *EventRepository) GetForUpdate(ctx context.Context, id string) (*model.Event, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

// GetForShare retrieves an event and blocks a concurrent freeze until the
// caller's transaction ends.
func (r *EventRepository) GetForShare(ctx context.Context, id string) (*model.Event, error) {
	return r.get(ctx, id, " FOR SHARE")
}

func (r *EventRepository) get(ctx context.Context, id, lock string) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1` + lock

	e, err := scanEvent(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// Update rewrites the schedule and prize pool of an event.
func (r *EventRepository) Update(ctx context.Context, id string, startsAt, endsAt time.Time, prizePool decimal.Decimal) (*model.Event, error) {
	query := `
		UPDATE events
		SET starts_at = $2, ends_at = $3, prize_pool_wld = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + eventColumns

	e, err := scanEvent(r.q.QueryRow(ctx, query, id, startsAt, endsAt, prizePool.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	return e, nil
}

// Freeze marks an event frozen. It only affects an unfrozen row and reports
// whether it did.
func (r *EventRepository) Freeze(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `
		UPDATE events
		SET frozen = TRUE, frozen_at = $2, updated_at = NOW()
		WHERE id = $1 AND frozen = FALSE
	`

	tag, err := r.q.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to freeze event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		e    model.Event
		pool string
	)
	if err := row.Scan(
		&e.ID,
		&e.StartsAt,
		&e.EndsAt,
		&e.Frozen,
		&e.FrozenAt,
		&pool,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	d, err := parseDecimal("prize_pool_wld", pool)
	if err != nil {
		return nil, err
	}
	e.PrizePoolWLD = d
	return &e, nil
}
