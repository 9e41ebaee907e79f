package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// ErrTxConflict is returned when a transaction kept failing with
// serialization or deadlock errors after all retries.
var ErrTxConflict = errors.New("transaction conflict, retries exhausted")

// Postgres error codes the helpers care about.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// TxRunner runs closures in a transaction. Every mutation of a contended row
// goes through it: the closure locks the row with SELECT ... FOR UPDATE,
// re-validates its invariants, then mutates. Returning an error rolls back.
type TxRunner struct {
	starter    TxStarter
	maxRetries int
}

// NewTxRunner creates a TxRunner. maxRetries bounds how many times a
// serialization failure or deadlock is retried.
func NewTxRunner(starter TxStarter, maxRetries int) *TxRunner {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &TxRunner{starter: starter, maxRetries: maxRetries}
}

// Run executes fn inside a read-committed transaction and commits it.
// A commit happens only if fn returns nil; if fn wants to persist some state
// and still report a failure it must return a *CommitThenFail.
func (r *TxRunner) Run(ctx context.Context, fn func(tx pgx.Tx) error) error {
	delay := 25 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err := r.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt >= r.maxRetries {
			return fmt.Errorf("%w: %v", ErrTxConflict, err)
		}

		log.Debug().Err(err).Int("attempt", attempt+1).Msg("Retrying transaction after conflict")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.starter.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	fnErr := fn(tx)

	var deferred *CommitThenFail
	if fnErr != nil && !errors.As(fnErr, &deferred) {
		return fnErr
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if deferred != nil {
		return deferred.Err
	}
	return nil
}

// CommitThenFail asks TxRunner.Run to commit the work done so far and then
// return Err to the caller. It is used for terminal state transitions such as
// marking an intent expired before reporting the expiry.
type CommitThenFail struct {
	Err error
}

func (c *CommitThenFail) Error() string { return c.Err.Error() }

func (c *CommitThenFail) Unwrap() error { return c.Err }

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally restricted to a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}
