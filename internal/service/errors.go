// Package service provides business logic implementations.
package service

import "reflex-arena/internal/apperr"

// Validation errors.
var (
	ErrInvalidAddress = apperr.Validation("invalid_address", "address must be a 0x-prefixed 20-byte hex string")
	ErrInvalidEventID = apperr.Validation("invalid_event", "event id is required")
	ErrInvalidSeed    = apperr.Validation("invalid_seed", "seed must be 1 to 128 characters")
	ErrInvalidTxHash  = apperr.Validation("invalid_tx_hash", "transaction hash must be a 0x-prefixed 32-byte hex string")
	ErrInvalidIntent  = apperr.Validation("invalid_intent", "intent id must be a UUID")
	ErrInvalidWindow  = apperr.Validation("invalid_window", "event must end after it starts")
	ErrInvalidPool    = apperr.Validation("invalid_prize_pool", "prize pool must be a non-negative amount")
	ErrInvalidScore   = apperr.Validation("invalid_score", "score must be a finite non-negative number")
	ErrInvalidStart   = apperr.Validation("invalid_start", "start time is too far from the server clock")
	ErrEventExists    = apperr.Validation("event_exists", "an event with this id already exists")
)

// Not-found errors.
var (
	ErrEventNotFound  = apperr.New(apperr.KindNotFound, "event_not_found", "event not found")
	ErrIntentNotFound = apperr.New(apperr.KindNotFound, "intent_not_found", "payment intent not found")
	ErrNotFinalized   = apperr.New(apperr.KindNotFound, "not_found", "event has not been finalized")
)

// Entitlement errors.
var (
	ErrNoCredit         = apperr.New(apperr.KindEntitlement, "no_credit", "no paid attempt for this event")
	ErrCreditUsed       = apperr.New(apperr.KindEntitlement, "credit_used", "the paid attempt was already used")
	ErrMaxTriesExceeded = apperr.New(apperr.KindEntitlement, "max_tries_exceeded", "maximum attempts reached for this event")
	ErrEventNotActive   = apperr.New(apperr.KindEntitlement, "event_not_active", "event is not running")
	ErrEventFrozen      = apperr.New(apperr.KindEntitlement, "event_frozen", "event is finalized")
)

// Integrity errors.
var (
	ErrInvalidToken  = apperr.New(apperr.KindIntegrity, "invalid_token", "run token does not match the run")
	ErrRunExpired    = apperr.New(apperr.KindIntegrity, "run_expired", "run token is too old")
	ErrDuplicateRun  = apperr.New(apperr.KindIntegrity, "duplicate_run", "run already submitted")
	ErrInvalidInputs = apperr.New(apperr.KindIntegrity, "invalid_inputs", "input log is not plausible")
	ErrScoreMismatch = apperr.New(apperr.KindIntegrity, "score_mismatch", "score does not match the input log")
)

// Settlement errors.
var (
	ErrTxUsed             = apperr.New(apperr.KindSettlement, "tx_used", "transaction already used for another payment")
	ErrTxMismatch         = apperr.New(apperr.KindSettlement, "tx_mismatch", "intent was confirmed with a different transaction")
	ErrIntentExpired      = apperr.New(apperr.KindSettlement, "intent_expired", "payment intent expired")
	ErrVerificationFailed = apperr.New(apperr.KindSettlement, "verification_failed", "payment could not be verified on chain")
	ErrPaymentPending     = apperr.New(apperr.KindSettlement, "payment_pending", "transaction not yet confirmed, retry shortly")
	ErrTrustedLimit       = apperr.New(apperr.KindSettlement, "trusted_limit", "unverified payment limit reached, use verified confirmation")
	ErrAlreadyFinalized   = apperr.New(apperr.KindSettlement, "already_finalized", "event already finalized")
)

// Authorization errors.
var (
	ErrNotOwner = apperr.New(apperr.KindAuthorization, "not_owner", "payment intent belongs to another address")
)
