package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"reflex-arena/internal/config"
	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
	"reflex-arena/internal/repository"
)

// Entitlement is a preview of what an address may still do in an event.
type Entitlement struct {
	Balance        int    `json:"balance"`
	Used           bool   `json:"used"`
	AttemptsUsed   int    `json:"attemptsUsed"`
	TotalPurchased int    `json:"totalPurchased"`
	TriesRemaining int    `json:"triesRemaining"`
	MaxTries       int    `json:"maxTries"`
	Mode           string `json:"mode"`
}

// ConsumeResult reports the state after a successful consume.
type ConsumeResult struct {
	AttemptsUsed   int
	TriesRemaining int
}

// creditState is the locked snapshot a consume decision is made on.
type creditState struct {
	Exists  bool
	Balance int
	Used    bool
	Count   int
}

// CreditLedger owns per-(address, event) entitlement. Every mutation runs in
// a transaction that locks the credit row first and the try counter second.
type CreditLedger struct {
	runner   *db.TxRunner
	credits  *repository.CreditRepository
	mode     string
	maxTries int
}

// NewCreditLedger creates a CreditLedger.
func NewCreditLedger(runner *db.TxRunner, credits *repository.CreditRepository, cfg *config.GameConfig) *CreditLedger {
	return &CreditLedger{
		runner:   runner,
		credits:  credits,
		mode:     cfg.EntitlementMode,
		maxTries: cfg.MaxTries,
	}
}

// GetEntitlement returns an unlocked preview. It may be stale by the time the
// caller acts on it.
func (l *CreditLedger) GetEntitlement(ctx context.Context, address, eventID string) (*Entitlement, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}

	ent := &Entitlement{MaxTries: l.maxTries, Mode: l.mode}

	credit, err := l.credits.Get(ctx, address, eventID)
	switch {
	case err == nil:
		ent.Balance = credit.Balance
		ent.Used = credit.Used
		ent.TotalPurchased = credit.TotalPurchased
	case errors.Is(err, repository.ErrCreditNotFound):
	default:
		return nil, err
	}

	count, err := l.credits.GetTryCount(ctx, address, eventID)
	if err != nil {
		return nil, err
	}
	ent.AttemptsUsed = count
	ent.TriesRemaining = triesRemaining(l.mode, l.maxTries, ent.Balance, ent.Used, count)
	return ent, nil
}

// Consume spends one attempt in its own transaction.
func (l *CreditLedger) Consume(ctx context.Context, address, eventID string) (*ConsumeResult, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}

	var res *ConsumeResult
	err = l.runner.Run(ctx, func(tx pgx.Tx) error {
		var err error
		res, err = l.ConsumeTx(ctx, tx, address, eventID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ConsumeTx spends one attempt inside tx. address must be normalized.
func (l *CreditLedger) ConsumeTx(ctx context.Context, tx pgx.Tx, address, eventID string) (*ConsumeResult, error) {
	credits := l.credits.WithTx(tx)

	state := creditState{}
	credit, err := credits.GetForUpdate(ctx, address, eventID)
	switch {
	case err == nil:
		state.Exists = true
		state.Balance = credit.Balance
		state.Used = credit.Used
	case errors.Is(err, repository.ErrCreditNotFound):
		return nil, ErrNoCredit
	default:
		return nil, err
	}

	state.Count, err = credits.EnsureTryCountForUpdate(ctx, address, eventID)
	if err != nil {
		return nil, err
	}

	balance, used, err := decideConsume(state, l.mode, l.maxTries)
	if err != nil {
		return nil, err
	}

	if _, err := credits.Save(ctx, address, eventID, balance, used); err != nil {
		return nil, err
	}
	count, err := credits.IncrementTryCount(ctx, address, eventID)
	if err != nil {
		return nil, err
	}

	return &ConsumeResult{
		AttemptsUsed:   count,
		TriesRemaining: triesRemaining(l.mode, l.maxTries, balance, used, count),
	}, nil
}

// Grant adds n attempts inside a payment confirmation transaction.
func (l *CreditLedger) Grant(ctx context.Context, tx pgx.Tx, address, eventID string, n int) (*model.Credit, error) {
	if n <= 0 {
		return nil, fmt.Errorf("grant of %d attempts", n)
	}
	credits := l.credits.WithTx(tx)
	if _, err := credits.EnsureForUpdate(ctx, address, eventID); err != nil {
		return nil, err
	}
	credit, err := credits.AddPurchased(ctx, address, eventID, n)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("address", address).
		Str("event_id", eventID).
		Int("granted", n).
		Int("balance", credit.Balance).
		Msg("Credit granted")
	return credit, nil
}

// LockTx creates the credit row of (address, event) if needed and locks it.
// Payment confirmations take it before counting prior grants.
func (l *CreditLedger) LockTx(ctx context.Context, tx pgx.Tx, address, eventID string) error {
	_, err := l.credits.WithTx(tx).EnsureForUpdate(ctx, address, eventID)
	return err
}

// ExpireStaleCredits removes entitlement rows of events that have ended.
func (l *CreditLedger) ExpireStaleCredits(ctx context.Context, now time.Time) (int64, error) {
	n, err := l.credits.DeleteForEndedEvents(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("removed", n).Msg("Expired stale credits")
	}
	return n, nil
}

// decideConsume applies the entitlement rules to a locked snapshot and
// returns the new balance and used flag.
func decideConsume(s creditState, mode string, maxTries int) (int, bool, error) {
	if !s.Exists {
		return 0, false, ErrNoCredit
	}
	// A spent credit reports credit_used even when the try cap is also reached.
	if s.Used && (mode == config.EntitlementSingle || s.Balance <= 0) {
		return 0, false, ErrCreditUsed
	}
	if s.Count >= maxTries {
		return 0, false, ErrMaxTriesExceeded
	}
	if s.Balance <= 0 {
		return 0, false, ErrNoCredit
	}

	balance := s.Balance - 1
	used := mode == config.EntitlementSingle || balance == 0
	return balance, used, nil
}

func triesRemaining(mode string, maxTries, balance int, used bool, count int) int {
	available := balance
	if mode == config.EntitlementSingle && used {
		available = 0
	}
	return max(0, min(maxTries-count, available))
}
