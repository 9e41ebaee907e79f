package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"reflex-arena/internal/chain"
	"reflex-arena/internal/config"
	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/lock"
	"reflex-arena/internal/repository"
)

const (
	maxAuditAttempts = 5
	resumeBatchSize  = 1000
	busyRetryDelay   = 250 * time.Millisecond
)

// errAuditBusy is returned by Audit when another audit holds the
// transaction hash. Nothing was recorded.
var errAuditBusy = errors.New("audit already running for transaction")

// Auditor checks trusted payments on chain after they were credited. It only
// records passed or flagged; a flagged payment keeps its credit and is left
// for manual review.
type Auditor struct {
	verifier *chain.Verifier
	intents  *repository.IntentRepository
	locks    *lock.KeyedLock
	delay    time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// NewAuditor creates an Auditor.
func NewAuditor(verifier *chain.Verifier, intents *repository.IntentRepository, cfg *config.PaymentConfig) *Auditor {
	return &Auditor{
		verifier: verifier,
		intents:  intents,
		locks:    lock.NewKeyedLock(),
		delay:    cfg.AuditDelay,
		timeout:  cfg.AuditTimeout,
		timers:   make(map[string]*time.Timer),
	}
}

// Schedule queues a one-shot audit of p after the configured delay.
func (a *Auditor) Schedule(p *model.PaymentIntent) {
	a.schedule(p, 1)
}

func (a *Auditor) schedule(p *model.PaymentIntent, attempt int) {
	a.queue(p, attempt, a.delay*time.Duration(attempt))
}

func (a *Auditor) queue(p *model.PaymentIntent, attempt int, after time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if _, queued := a.timers[p.ID]; queued && attempt == 1 {
		return
	}

	a.wg.Add(1)
	a.timers[p.ID] = time.AfterFunc(after, func() {
		defer a.wg.Done()

		a.mu.Lock()
		delete(a.timers, p.ID)
		a.mu.Unlock()

		a.run(p, attempt)
	})
}

func (a *Auditor) run(p *model.PaymentIntent, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	status, err := a.Audit(ctx, p, attempt >= maxAuditAttempts)
	if errors.Is(err, errAuditBusy) {
		// Busy attempts are requeued, not spent.
		a.queue(p, attempt, max(a.delay, busyRetryDelay))
		return
	}
	if err != nil {
		log.Error().Err(err).Str("intent_id", p.ID).Int("attempt", attempt).Msg("Audit failed")
	}
	if status == model.AuditPending && attempt < maxAuditAttempts {
		a.schedule(p, attempt+1)
	}
}

// Audit checks p on chain and records the result. It returns pending when
// the outcome is not yet known; with final set, an unknown outcome is
// flagged instead. If another audit of the same hash is running it returns
// pending with errAuditBusy.
func (a *Auditor) Audit(ctx context.Context, p *model.PaymentIntent, final bool) (model.AuditStatus, error) {
	if p.TxHash == nil {
		return a.record(ctx, p, model.AuditFlagged, "no transaction hash bound")
	}
	hash := *p.TxHash

	if !a.locks.TryLock(hash) {
		return model.AuditPending, errAuditBusy
	}
	defer a.locks.Unlock(hash)

	_, err := a.verifier.VerifyPayment(ctx, common.HexToHash(hash), common.HexToAddress(p.Address), p.ExpectedWei)
	switch {
	case err == nil:
		return a.record(ctx, p, model.AuditPassed, "")
	case errors.Is(err, chain.ErrReverted), errors.Is(err, chain.ErrNoMatchingTransfer):
		return a.record(ctx, p, model.AuditFlagged, err.Error())
	case final:
		return a.record(ctx, p, model.AuditFlagged, "unresolved: "+err.Error())
	case errors.Is(err, chain.ErrTxNotFound), errors.Is(err, chain.ErrNotEnoughConfirmations):
		return model.AuditPending, nil
	default:
		return model.AuditPending, err
	}
}

func (a *Auditor) record(ctx context.Context, p *model.PaymentIntent, status model.AuditStatus, note string) (model.AuditStatus, error) {
	changed, err := a.intents.SetAuditResult(ctx, p.ID, status, note)
	if err != nil {
		return model.AuditPending, err
	}
	if !changed {
		return status, nil
	}

	event := log.Info()
	if status == model.AuditFlagged {
		event = log.Warn()
	}
	event.
		Str("intent_id", p.ID).
		Str("address", p.Address).
		Str("event_id", p.EventID).
		Str("audit", string(status)).
		Str("note", note).
		Msg("Trusted payment audited")
	return status, nil
}

// Resume reschedules audits left pending by a previous process.
func (a *Auditor) Resume(ctx context.Context) (int, error) {
	pending, err := a.intents.ListAuditPending(ctx, resumeBatchSize)
	if err != nil {
		return 0, err
	}
	for _, p := range pending {
		a.Schedule(p)
	}
	if len(pending) > 0 {
		log.Info().Int("count", len(pending)).Msg("Resumed pending audits")
	}
	return len(pending), nil
}

// Pending returns the number of queued audits.
func (a *Auditor) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}

// Close drops queued audits and waits for running ones. Dropped audits stay
// pending in the database and are picked up by Resume.
func (a *Auditor) Close() {
	a.mu.Lock()
	a.closed = true
	for id, t := range a.timers {
		if t.Stop() {
			a.wg.Done()
		}
		delete(a.timers, id)
	}
	a.mu.Unlock()

	a.wg.Wait()
}
