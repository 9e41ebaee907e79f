package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"reflex-arena/internal/chain"
	"reflex-arena/internal/config"
	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
	"reflex-arena/internal/policy"
	"reflex-arena/internal/repository"
)

const (
	// attemptsPerPayment is the number of attempts one confirmed payment buys.
	attemptsPerPayment = 1
	sweepBatchSize     = 500
)

// Intent is the client view of a payment intent.
type Intent struct {
	IntentID       string          `json:"intentId"`
	ExpectedAmount decimal.Decimal `json:"expectedAmount"`
	ExpectedWei    string          `json:"expectedWei"`
	Treasury       string          `json:"treasury"`
	ExpiresAt      time.Time       `json:"expiry"`
}

// ConfirmResult reports the outcome of a confirmation.
type ConfirmResult struct {
	Granted          bool                 `json:"granted"`
	AlreadyConfirmed bool                 `json:"alreadyConfirmed"`
	Intent           *model.PaymentIntent `json:"-"`
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Scanned   int
	Confirmed int
	Expired   int
	Failed    int
}

// PaymentService turns payment intents into credits. Verified confirmation
// checks the chain before crediting; trusted confirmation credits on the
// wallet's success signal and audits afterwards; the sweep catches payments
// whose confirmation never arrived.
type PaymentService struct {
	runner   *db.TxRunner
	events   *repository.EventRepository
	intents  *repository.IntentRepository
	ledger   *CreditLedger
	verifier *chain.Verifier
	policy   *policy.Policy
	auditor  *Auditor
	treasury string

	intentTTL        time.Duration
	expiryGrace      time.Duration
	maxTrusted       int
	sweepConcurrency int
	reorgWindow      uint64
	maxScanBlocks    uint64

	now func() time.Time
}

// PaymentServiceDeps groups the collaborators of PaymentService.
type PaymentServiceDeps struct {
	Runner   *db.TxRunner
	Events   *repository.EventRepository
	Intents  *repository.IntentRepository
	Ledger   *CreditLedger
	Verifier *chain.Verifier
	Policy   *policy.Policy
	Auditor  *Auditor
}

// NewPaymentService creates a PaymentService.
func NewPaymentService(deps PaymentServiceDeps, payCfg *config.PaymentConfig, chainCfg *config.ChainConfig) *PaymentService {
	return &PaymentService{
		runner:           deps.Runner,
		events:           deps.Events,
		intents:          deps.Intents,
		ledger:           deps.Ledger,
		verifier:         deps.Verifier,
		policy:           deps.Policy,
		auditor:          deps.Auditor,
		treasury:         common.HexToAddress(chainCfg.TreasuryAddress).Hex(),
		intentTTL:        payCfg.IntentTTL,
		expiryGrace:      payCfg.ExpiryGrace,
		maxTrusted:       payCfg.MaxTrustedCredits,
		sweepConcurrency: max(1, payCfg.SweepConcurrency),
		reorgWindow:      chainCfg.ReorgWindow,
		maxScanBlocks:    chainCfg.MaxScanBlocks,
		now:              time.Now,
	}
}

// CreateIntent returns the caller's unexpired pending intent for the event or
// creates one priced by tier.
func (s *PaymentService) CreateIntent(ctx context.Context, address, eventID string, tier model.VerificationLevel) (*Intent, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	if event.Frozen {
		return nil, ErrEventFrozen
	}

	now := s.now()
	existing, err := s.intents.FindReusable(ctx, address, eventID, now)
	if err == nil {
		return s.view(existing), nil
	}
	if !errors.Is(err, repository.ErrIntentNotFound) {
		return nil, err
	}

	head, err := s.verifier.Head(ctx)
	if err != nil {
		return nil, err
	}

	created, err := s.intents.Create(ctx, &model.PaymentIntent{
		ID:                uuid.NewString(),
		Address:           address,
		EventID:           eventID,
		ExpectedWei:       s.policy.Fee(tier),
		VerificationLevel: tier,
		StartBlock:        head,
		ExpiresAt:         now.Add(s.intentTTL),
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("intent_id", created.ID).
		Str("address", address).
		Str("event_id", eventID).
		Str("expected_wei", created.ExpectedWei.String()).
		Msg("Payment intent created")

	return s.view(created), nil
}

// ConfirmVerified credits an intent after checking txHash on chain.
// Retrying with the same hash after success is a no-op.
func (s *PaymentService) ConfirmVerified(ctx context.Context, address, intentID, txHash string) (*ConfirmResult, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if err := validateIntentID(intentID); err != nil {
		return nil, err
	}
	txHash, err = normalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}

	var res *ConfirmResult
	err = s.runner.Run(ctx, func(tx pgx.Tx) error {
		intents := s.intents.WithTx(tx)

		intent, err := intents.GetForUpdate(ctx, intentID)
		if err != nil {
			if errors.Is(err, repository.ErrIntentNotFound) {
				return ErrIntentNotFound
			}
			return err
		}
		if intent.Address != address {
			return ErrNotOwner
		}

		if done, err := settled(intent, txHash); done {
			res = &ConfirmResult{AlreadyConfirmed: true, Intent: intent}
			return nil
		} else if err != nil {
			return err
		}

		if intent.IsExpired(s.now()) {
			if _, err := intents.MarkTerminal(ctx, intent.ID, model.IntentExpired, nil); err != nil {
				return err
			}
			return &db.CommitThenFail{Err: ErrIntentExpired}
		}

		if err := checkHashFree(ctx, intents, intent.ID, txHash); err != nil {
			return err
		}

		_, err = s.verifier.VerifyPayment(ctx, common.HexToHash(txHash), common.HexToAddress(address), intent.ExpectedWei)
		switch {
		case err == nil:
		case errors.Is(err, chain.ErrTxNotFound), errors.Is(err, chain.ErrNotEnoughConfirmations):
			return fmt.Errorf("%w: %v", ErrPaymentPending, err)
		case errors.Is(err, chain.ErrReverted):
			if _, err := intents.MarkTerminal(ctx, intent.ID, model.IntentFailed, &txHash); err != nil {
				return mapTxHashErr(err)
			}
			return &db.CommitThenFail{Err: fmt.Errorf("%w: transaction reverted", ErrVerificationFailed)}
		case errors.Is(err, chain.ErrNoMatchingTransfer):
			return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		default:
			return err
		}

		confirmed, err := intents.MarkConfirmed(ctx, intent.ID, txHash, model.ModeVerified, model.AuditNone, s.now())
		if err != nil {
			return mapTxHashErr(err)
		}
		if _, err := s.ledger.Grant(ctx, tx, address, intent.EventID, attemptsPerPayment); err != nil {
			return err
		}
		res = &ConfirmResult{Granted: true, Intent: confirmed}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("intent_id", intentID).Str("tx_hash", txHash).Msg("Verified confirmation failed")
		return nil, err
	}

	if res.Granted {
		log.Info().Str("intent_id", intentID).Str("tx_hash", txHash).Msg("Payment confirmed on chain")
	}
	return res, nil
}

// ConfirmTrusted credits the caller's pending intent on the wallet's success
// signal. txHash is bound to the intent as a dedupe key and checked on chain
// later by the auditor. Each address may take at most maxTrusted credits
// this way per event.
func (s *PaymentService) ConfirmTrusted(ctx context.Context, address, eventID, txHash string) (*ConfirmResult, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}
	txHash, err = normalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}

	var res *ConfirmResult
	err = s.runner.Run(ctx, func(tx pgx.Tx) error {
		intents := s.intents.WithTx(tx)

		bound, err := intents.GetByTxHash(ctx, txHash)
		switch {
		case err == nil:
			if bound.Address != address || bound.EventID != eventID {
				return ErrTxUsed
			}
			if done, err := settled(bound, txHash); done {
				res = &ConfirmResult{AlreadyConfirmed: true, Intent: bound}
				return nil
			} else if err != nil {
				return err
			}
		case !errors.Is(err, repository.ErrIntentNotFound):
			return err
		}

		intent, err := intents.FindPendingForUpdate(ctx, address, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrIntentNotFound) {
				return ErrIntentNotFound
			}
			return err
		}
		if intent.IsExpired(s.now()) {
			if _, err := intents.MarkTerminal(ctx, intent.ID, model.IntentExpired, nil); err != nil {
				return err
			}
			return &db.CommitThenFail{Err: ErrIntentExpired}
		}

		// The credit row lock serializes trusted confirmations of the same
		// (address, event) across intents, so the count below is exact.
		if err := s.ledger.LockTx(ctx, tx, address, eventID); err != nil {
			return err
		}
		trusted, err := intents.CountTrusted(ctx, address, eventID)
		if err != nil {
			return err
		}
		if trusted >= s.maxTrusted {
			return ErrTrustedLimit
		}

		confirmed, err := intents.MarkConfirmed(ctx, intent.ID, txHash, model.ModeTrusted, model.AuditPending, s.now())
		if err != nil {
			return mapTxHashErr(err)
		}
		if _, err := s.ledger.Grant(ctx, tx, address, eventID, attemptsPerPayment); err != nil {
			return err
		}
		res = &ConfirmResult{Granted: true, Intent: confirmed}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("address", address).Str("tx_hash", txHash).Msg("Trusted confirmation failed")
		return nil, err
	}

	if res.Granted {
		log.Info().Str("intent_id", res.Intent.ID).Str("tx_hash", txHash).Msg("Payment confirmed on trust, audit scheduled")
		if s.auditor != nil {
			s.auditor.Schedule(res.Intent)
		}
	}
	return res, nil
}

// Sweep scans pending intents for transfers that reached the treasury
// without a confirmation call, and expires intents that stayed unpaid past
// their window. Safe to run concurrently with itself and with confirmations.
func (s *PaymentService) Sweep(ctx context.Context) (*SweepResult, error) {
	head, err := s.verifier.Head(ctx)
	if err != nil {
		return nil, err
	}
	var safeHead uint64
	if head > s.reorgWindow {
		safeHead = head - s.reorgWindow
	}

	pending, err := s.intents.ListPending(ctx, sweepBatchSize)
	if err != nil {
		return nil, err
	}

	var confirmed, expired, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.sweepConcurrency)
	for _, p := range pending {
		g.Go(func() error {
			outcome, err := s.sweepOne(gctx, p, safeHead)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				log.Error().Err(err).Str("intent_id", p.ID).Msg("Sweep failed for intent")
				return nil
			}
			switch outcome {
			case model.IntentConfirmed:
				confirmed.Add(1)
			case model.IntentExpired:
				expired.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &SweepResult{
		Scanned:   len(pending),
		Confirmed: int(confirmed.Load()),
		Expired:   int(expired.Load()),
		Failed:    int(failed.Load()),
	}
	if res.Confirmed > 0 || res.Expired > 0 || res.Failed > 0 {
		log.Info().
			Int("scanned", res.Scanned).
			Int("confirmed", res.Confirmed).
			Int("expired", res.Expired).
			Int("failed", res.Failed).
			Uint64("safe_head", safeHead).
			Msg("Payment sweep finished")
	}
	return res, nil
}

// sweepOne settles a single intent and returns the status it moved to, or
// pending when nothing changed.
func (s *PaymentService) sweepOne(ctx context.Context, p *model.PaymentIntent, safeHead uint64) (model.IntentStatus, error) {
	from := p.StartBlock
	to := safeHead
	if s.maxScanBlocks > 0 && to >= from && to-from+1 > s.maxScanBlocks {
		to = from + s.maxScanBlocks - 1
	}

	payer := common.HexToAddress(p.Address)
	transfer, err := s.verifier.FindTransfer(ctx, payer, p.ExpectedWei, from, to, func(h common.Hash) bool {
		return s.hashBound(ctx, h)
	})
	switch {
	case err == nil:
		return s.sweepConfirm(ctx, p, transfer)
	case errors.Is(err, chain.ErrNoMatchingTransfer):
	default:
		return model.IntentPending, err
	}

	if !s.now().After(p.ExpiresAt.Add(s.expiryGrace)) {
		return model.IntentPending, nil
	}
	changed, err := s.intents.MarkTerminal(ctx, p.ID, model.IntentExpired, nil)
	if err != nil {
		return model.IntentPending, err
	}
	if !changed {
		return model.IntentPending, nil
	}
	log.Info().Str("intent_id", p.ID).Msg("Payment intent expired")
	return model.IntentExpired, nil
}

// errHashTaken rolls back a sweep confirmation whose transfer was bound to
// another intent after the scan. The intent stays pending.
var errHashTaken = errors.New("transaction hash taken")

func (s *PaymentService) sweepConfirm(ctx context.Context, p *model.PaymentIntent, t *chain.Transfer) (model.IntentStatus, error) {
	txHash := t.TxHash.Hex()
	status := model.IntentPending

	err := s.runner.Run(ctx, func(tx pgx.Tx) error {
		intents := s.intents.WithTx(tx)
		intent, err := intents.GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if intent.Status != model.IntentPending {
			return nil
		}
		if _, err := intents.MarkConfirmed(ctx, intent.ID, txHash, model.ModeSweep, model.AuditNone, s.now()); err != nil {
			if errors.Is(err, repository.ErrTxHashUsed) {
				return errHashTaken
			}
			return err
		}
		if _, err := s.ledger.Grant(ctx, tx, intent.Address, intent.EventID, attemptsPerPayment); err != nil {
			return err
		}
		status = model.IntentConfirmed
		return nil
	})
	if errors.Is(err, errHashTaken) {
		log.Debug().Str("intent_id", p.ID).Str("tx_hash", txHash).Msg("Transfer was bound to another intent during sweep")
		return model.IntentPending, nil
	}
	if err != nil {
		return model.IntentPending, err
	}

	if status == model.IntentConfirmed {
		log.Info().
			Str("intent_id", p.ID).
			Str("tx_hash", txHash).
			Uint64("block", t.BlockNumber).
			Msg("Payment found by sweep")
	}
	return status, nil
}

// hashBound reports whether h is already bound to an intent. Lookup errors
// count as bound so the transfer is retried on the next sweep.
func (s *PaymentService) hashBound(ctx context.Context, h common.Hash) bool {
	_, err := s.intents.GetByTxHash(ctx, h.Hex())
	if errors.Is(err, repository.ErrIntentNotFound) {
		return false
	}
	if err != nil {
		log.Warn().Err(err).Str("tx_hash", h.Hex()).Msg("Failed to check transaction binding")
	}
	return true
}

func (s *PaymentService) view(p *model.PaymentIntent) *Intent {
	return &Intent{
		IntentID:       p.ID,
		ExpectedAmount: policy.FromBaseUnits(p.ExpectedWei, s.policy.Decimals()),
		ExpectedWei:    p.ExpectedWei.String(),
		Treasury:       s.treasury,
		ExpiresAt:      p.ExpiresAt,
	}
}

// settled inspects an intent that is no longer pending. done is true when it
// was already confirmed with txHash.
func settled(p *model.PaymentIntent, txHash string) (done bool, err error) {
	switch p.Status {
	case model.IntentPending:
		return false, nil
	case model.IntentConfirmed:
		if p.TxHash != nil && *p.TxHash == txHash {
			return true, nil
		}
		return false, ErrTxMismatch
	case model.IntentExpired:
		return false, ErrIntentExpired
	default:
		return false, ErrVerificationFailed
	}
}

// checkHashFree fails when txHash is bound to an intent other than id.
func checkHashFree(ctx context.Context, intents *repository.IntentRepository, id, txHash string) error {
	other, err := intents.GetByTxHash(ctx, txHash)
	switch {
	case err == nil:
		if other.ID != id {
			return ErrTxUsed
		}
		return nil
	case errors.Is(err, repository.ErrIntentNotFound):
		return nil
	default:
		return err
	}
}

func mapTxHashErr(err error) error {
	if errors.Is(err, repository.ErrTxHashUsed) {
		return ErrTxUsed
	}
	return err
}
