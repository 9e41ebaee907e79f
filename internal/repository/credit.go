package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
)

const creditColumns = `address, event_id, balance, used, total_purchased, updated_at`

// CreditRepository handles credit balances and try counters.
type CreditRepository struct {
	q db.Querier
}

// NewCreditRepository creates a new CreditRepository instance.
func NewCreditRepository(q db.Querier) *CreditRepository {
	return &CreditRepository{q: q}
}

// WithTx returns a repository bound to tx.
func (r *CreditRepository) WithTx(tx pgx.Tx) *CreditRepository {
	return &CreditRepository{q: tx}
}

// Get retrieves a credit row without locking it.
// Returns ErrCreditNotFound if the address never purchased for the event.
func (r *CreditRepository) Get(ctx context.Context, address, eventID string) (*model.Credit, error) {
	return r.get(ctx, address, eventID, "")
}

// GetForUpdate retrieves and locks a credit row.
func (r *CreditRepository) GetForUpdate(ctx context.Context, address, eventID string) (*model.Credit, error) {
	return r.get(ctx, address, eventID, " FOR UPDATE")
}

func (r *CreditRepository) get(ctx context.Context, address, eventID, lock string) (*model.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE address = $1 AND event_id = $2` + lock

	c, err := scanCredit(r.q.QueryRow(ctx, query, address, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCreditNotFound
		}
		return nil, fmt.Errorf("failed to get credit: %w", err)
	}
	return c, nil
}

// EnsureForUpdate creates an empty credit row if needed and locks it.
func (r *CreditRepository) EnsureForUpdate(ctx context.Context, address, eventID string) (*model.Credit, error) {
	const insert = `
		INSERT INTO credits (address, event_id)
		VALUES ($1, $2)
		ON CONFLICT (address, event_id) DO NOTHING
	`
	if _, err := r.q.Exec(ctx, insert, address, eventID); err != nil {
		return nil, fmt.Errorf("failed to ensure credit: %w", err)
	}
	return r.GetForUpdate(ctx, address, eventID)
}

// Save writes the balance and used flag of a locked row.
func (r *CreditRepository) Save(ctx context.Context, address, eventID string, balance int, used bool) (*model.Credit, error) {
	query := `
		UPDATE credits
		SET balance = $3, used = $4, updated_at = NOW()
		WHERE address = $1 AND event_id = $2
		RETURNING ` + creditColumns

	c, err := scanCredit(r.q.QueryRow(ctx, query, address, eventID, balance, used))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCreditNotFound
		}
		return nil, fmt.Errorf("failed to save credit: %w", err)
	}
	return c, nil
}

// AddPurchased adds n attempts to a locked row and clears used.
func (r *CreditRepository) AddPurchased(ctx context.Context, address, eventID string, n int) (*model.Credit, error) {
	query := `
		UPDATE credits
		SET balance = balance + $3, total_purchased = total_purchased + $3, used = FALSE, updated_at = NOW()
		WHERE address = $1 AND event_id = $2
		RETURNING ` + creditColumns

	c, err := scanCredit(r.q.QueryRow(ctx, query, address, eventID, n))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCreditNotFound
		}
		return nil, fmt.Errorf("failed to add credit: %w", err)
	}
	return c, nil
}

// DeleteForEndedEvents removes credit rows and try counters of events that
// ended before now and returns how many credit rows were removed.
func (r *CreditRepository) DeleteForEndedEvents(ctx context.Context, now time.Time) (int64, error) {
	const credits = `
		DELETE FROM credits c
		USING events e
		WHERE c.event_id = e.id AND e.ends_at < $1
	`
	const counters = `
		DELETE FROM try_counters t
		USING events e
		WHERE t.event_id = e.id AND e.ends_at < $1
	`

	tag, err := r.q.Exec(ctx, credits, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale credits: %w", err)
	}
	if _, err := r.q.Exec(ctx, counters, now); err != nil {
		return 0, fmt.Errorf("failed to delete stale try counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetTryCount returns the attempts used without locking. A missing row is zero.
func (r *CreditRepository) GetTryCount(ctx context.Context, address, eventID string) (int, error) {
	const query = `SELECT count FROM try_counters WHERE address = $1 AND event_id = $2`

	var count int
	err := r.q.QueryRow(ctx, query, address, eventID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get try count: %w", err)
	}
	return count, nil
}

// EnsureTryCountForUpdate creates the counter if needed, locks it and
// returns its value.
func (r *CreditRepository) EnsureTryCountForUpdate(ctx context.Context, address, eventID string) (int, error) {
	const insert = `
		INSERT INTO try_counters (address, event_id)
		VALUES ($1, $2)
		ON CONFLICT (address, event_id) DO NOTHING
	`
	const query = `SELECT count FROM try_counters WHERE address = $1 AND event_id = $2 FOR UPDATE`

	if _, err := r.q.Exec(ctx, insert, address, eventID); err != nil {
		return 0, fmt.Errorf("failed to ensure try counter: %w", err)
	}
	var count int
	if err := r.q.QueryRow(ctx, query, address, eventID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to lock try counter: %w", err)
	}
	return count, nil
}

// IncrementTryCount adds one to a locked counter and returns the new value.
func (r *CreditRepository) IncrementTryCount(ctx context.Context, address, eventID string) (int, error) {
	const query = `
		UPDATE try_counters
		SET count = count + 1
		WHERE address = $1 AND event_id = $2
		RETURNING count
	`

	var count int
	if err := r.q.QueryRow(ctx, query, address, eventID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment try count: %w", err)
	}
	return count, nil
}

func scanCredit(row pgx.Row) (*model.Credit, error) {
	var c model.Credit
	if err := row.Scan(
		&c.Address,
		&c.EventID,
		&c.Balance,
		&c.Used,
		&c.TotalPurchased,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
