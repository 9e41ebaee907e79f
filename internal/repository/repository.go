// Package repository provides data access layer implementations.
//
// Every repository runs on a db.Querier. Constructors take the pool; WithTx
// returns a copy bound to a transaction so row locks taken with
// SELECT ... FOR UPDATE are held by the caller's transaction.
package repository

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Common errors for repository operations.
var (
	ErrEventNotFound   = errors.New("event not found")
	ErrEventExists     = errors.New("event already exists")
	ErrCreditNotFound  = errors.New("credit not found")
	ErrRunNotFound     = errors.New("run not found")
	ErrDuplicateRun    = errors.New("run already recorded for this token")
	ErrEntryNotFound   = errors.New("leaderboard entry not found")
	ErrIntentNotFound  = errors.New("payment intent not found")
	ErrTxHashUsed      = errors.New("transaction hash already bound to an intent")
	ErrWinnersNotFound = errors.New("event winners not found")
	ErrWinnersExist    = errors.New("event winners already recorded")
)

// parseDecimal reads a NUMERIC column selected as text.
func parseDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", column, s, err)
	}
	return d, nil
}

// parseBigInt reads a NUMERIC(78,0) column selected as text.
func parseBigInt(column, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", column, s)
	}
	return n, nil
}
