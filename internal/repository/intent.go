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

const intentColumns = `id::text, address, event_id, expected_wei::text, status, mode, tx_hash, verification_level,
	start_block, expires_at, confirmed_at, audit_status, audit_note, created_at, updated_at`

// IntentRepository handles payment intents.
type IntentRepository struct {
	q db.Querier
}

// NewIntentRepository creates a new IntentRepository instance.
func NewIntentRepository(q db.Querier) *IntentRepository {
	return &IntentRepository{q: q}
}

// WithTx returns a repository bound to tx.
func (r *IntentRepository) WithTx(tx pgx.Tx) *IntentRepository {
	return &IntentRepository{q: tx}
}

// Create persists a pending intent.
func (r *IntentRepository) Create(ctx context.Context, p *model.PaymentIntent) (*model.PaymentIntent, error) {
	query := `
		INSERT INTO payment_intents (id, address, event_id, expected_wei, status, verification_level, start_block, expires_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)
		RETURNING ` + intentColumns

	out, err := scanIntent(r.q.QueryRow(ctx, query,
		p.ID, p.Address, p.EventID, p.ExpectedWei.String(), string(p.VerificationLevel), int64(p.StartBlock), p.ExpiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return out, nil
}

// GetByID retrieves an intent without locking it.
func (r *IntentRepository) GetByID(ctx context.Context, id string) (*model.PaymentIntent, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

// GetForUpdate retrieves and locks an intent.
func (r *IntentRepository) GetForUpdate(ctx context.Context, id string) (*model.PaymentIntent, error) {
	return r.getOne(ctx, `WHERE id = $1 FOR UPDATE`, id)
}

// GetByTxHash retrieves the intent a transaction hash is bound to.
func (r *IntentRepository) GetByTxHash(ctx context.Context, txHash string) (*model.PaymentIntent, error) {
	return r.getOne(ctx, `WHERE tx_hash = $1`, txHash)
}

// FindReusable returns the newest pending intent of (address, event) that is
// still valid at now.
func (r *IntentRepository) FindReusable(ctx context.Context, address, eventID string, now time.Time) (*model.PaymentIntent, error) {
	return r.getOne(ctx, `
		WHERE address = $1 AND event_id = $2 AND status = 'pending' AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1`, address, eventID, now)
}

// FindPendingForUpdate locks the newest pending intent of (address, event).
func (r *IntentRepository) FindPendingForUpdate(ctx context.Context, address, eventID string) (*model.PaymentIntent, error) {
	return r.getOne(ctx, `
		WHERE address = $1 AND event_id = $2 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`, address, eventID)
}

func (r *IntentRepository) getOne(ctx context.Context, where string, args ...any) (*model.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents ` + where

	p, err := scanIntent(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return p, nil
}

// ListPending returns up to limit pending intents, oldest first.
func (r *IntentRepository) ListPending(ctx context.Context, limit int) ([]*model.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending intents: %w", err)
	}
	defer rows.Close()

	var out []*model.PaymentIntent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment intent: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment intents: %w", err)
	}
	return out, nil
}

// MarkConfirmed binds txHash to a locked pending intent. Returns
// ErrTxHashUsed if the hash is bound to another intent.
func (r *IntentRepository) MarkConfirmed(ctx context.Context, id, txHash string, mode model.ConfirmMode, audit model.AuditStatus, at time.Time) (*model.PaymentIntent, error) {
	query := `
		UPDATE payment_intents
		SET status = 'confirmed', tx_hash = $2, mode = $3, audit_status = $4, confirmed_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + intentColumns

	p, err := scanIntent(r.q.QueryRow(ctx, query, id, txHash, string(mode), string(audit), at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		if db.IsUniqueViolation(err, db.ConstraintIntentTxHash) {
			return nil, ErrTxHashUsed
		}
		return nil, fmt.Errorf("failed to confirm payment intent: %w", err)
	}
	return p, nil
}

// MarkTerminal moves a pending intent to expired or failed, optionally
// recording the offending hash.
func (r *IntentRepository) MarkTerminal(ctx context.Context, id string, status model.IntentStatus, txHash *string) (bool, error) {
	const query = `
		UPDATE payment_intents
		SET status = $2, tx_hash = COALESCE($3, tx_hash), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.q.Exec(ctx, query, id, string(status), txHash)
	if err != nil {
		if db.IsUniqueViolation(err, db.ConstraintIntentTxHash) {
			return false, ErrTxHashUsed
		}
		return false, fmt.Errorf("failed to update payment intent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetAuditResult records the outcome of a pending audit. A settled audit is
// never overwritten.
func (r *IntentRepository) SetAuditResult(ctx context.Context, id string, status model.AuditStatus, note string) (bool, error) {
	const query = `
		UPDATE payment_intents
		SET audit_status = $2, audit_note = $3, updated_at = NOW()
		WHERE id = $1 AND audit_status = 'pending'
	`

	tag, err := r.q.Exec(ctx, query, id, string(status), note)
	if err != nil {
		return false, fmt.Errorf("failed to record audit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListAuditPending returns trusted intents whose audit has not settled.
// They are re-audited after a restart.
func (r *IntentRepository) ListAuditPending(ctx context.Context, limit int) ([]*model.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE audit_status = 'pending'
		ORDER BY confirmed_at ASC
		LIMIT $1`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit-pending intents: %w", err)
	}
	defer rows.Close()

	var out []*model.PaymentIntent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment intent: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment intents: %w", err)
	}
	return out, nil
}

// CountTrusted returns how many trusted confirmations (address, event) has.
func (r *IntentRepository) CountTrusted(ctx context.Context, address, eventID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM payment_intents
		WHERE address = $1 AND event_id = $2 AND status = 'confirmed' AND mode = 'trusted'
	`

	var n int
	if err := r.q.QueryRow(ctx, query, address, eventID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trusted payments: %w", err)
	}
	return n, nil
}

func scanIntent(row pgx.Row) (*model.PaymentIntent, error) {
	var (
		p                       model.PaymentIntent
		expected                string
		status, mode, tier, aud string
		startBlock              int64
	)
	if err := row.Scan(
		&p.ID,
		&p.Address,
		&p.EventID,
		&expected,
		&status,
		&mode,
		&p.TxHash,
		&tier,
		&startBlock,
		&p.ExpiresAt,
		&p.ConfirmedAt,
		&aud,
		&p.AuditNote,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	wei, err := parseBigInt("expected_wei", expected)
	if err != nil {
		return nil, err
	}
	p.ExpectedWei = wei
	p.Status = model.IntentStatus(status)
	p.Mode = model.ConfirmMode(mode)
	p.VerificationLevel = model.ParseVerificationLevel(tier)
	p.AuditStatus = model.AuditStatus(aud)
	if startBlock > 0 {
		p.StartBlock = uint64(startBlock)
	}
	return &p, nil
}
