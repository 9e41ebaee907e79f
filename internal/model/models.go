// Package model defines the data models for the competition backend.
package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// VerificationLevel is a user's identity-assurance tier.
type VerificationLevel string

const (
	VerificationOrb    VerificationLevel = "orb"    // Orb-verified identity
	VerificationDevice VerificationLevel = "device" // device-only verification
)

// ParseVerificationLevel normalizes a tier string. Anything unknown is
// treated as device-level, the least trusted tier.
func ParseVerificationLevel(s string) VerificationLevel {
	if VerificationLevel(s) == VerificationOrb {
		return VerificationOrb
	}
	return VerificationDevice
}

// Event is a timed competition with a prize pool.
type Event struct {
	ID           string          `db:"id"`
	StartsAt     time.Time       `db:"starts_at"`
	EndsAt       time.Time       `db:"ends_at"`
	Frozen       bool            `db:"frozen"`
	FrozenAt     *time.Time      `db:"frozen_at"`
	PrizePoolWLD decimal.Decimal `db:"prize_pool_wld"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// IsActive reports whether runs may be started at t.
func (e *Event) IsActive(t time.Time) bool {
	return !e.Frozen && !t.Before(e.StartsAt) && t.Before(e.EndsAt)
}

// Credit is the entitlement balance of an address for one event.
type Credit struct {
	Address        string    `db:"address"`
	EventID        string    `db:"event_id"`
	Balance        int       `db:"balance"`
	Used           bool      `db:"used"`
	TotalPurchased int       `db:"total_purchased"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Run is an accepted, replay-validated submission.
type Run struct {
	ID         int64     `db:"id"`
	StartToken string    `db:"start_token"`
	EventID    string    `db:"event_id"`
	Address    string    `db:"address"`
	Seed       string    `db:"seed"`
	StartedAt  time.Time `db:"started_at"`
	Score      float64   `db:"score"`
	TapCount   int       `db:"tap_count"`
	CreatedAt  time.Time `db:"created_at"`
}

// LeaderboardEntry is the best score of an address in an event.
type LeaderboardEntry struct {
	Address           string            `db:"address" json:"address"`
	EventID           string            `db:"event_id" json:"eventId"`
	TotalScore        float64           `db:"total_score" json:"totalScore"`
	VerificationLevel VerificationLevel `db:"verification_level" json:"-"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updatedAt"`
	Rank              int               `db:"-" json:"rank"`
}

// IntentStatus is the lifecycle state of a payment intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentExpired   IntentStatus = "expired"
	IntentFailed    IntentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s IntentStatus) IsTerminal() bool {
	return s != IntentPending
}

// ConfirmMode records which path confirmed an intent.
type ConfirmMode string

const (
	ModeVerified ConfirmMode = "verified" // on-chain proof checked before crediting
	ModeTrusted  ConfirmMode = "trusted"  // wallet success signal, audited afterwards
	ModeSweep    ConfirmMode = "sweep"    // found by the periodic log scan
)

// AuditStatus is the outcome of the asynchronous audit of a trusted payment.
type AuditStatus string

const (
	AuditNone    AuditStatus = "none"
	AuditPending AuditStatus = "pending"
	AuditPassed  AuditStatus = "passed"
	AuditFlagged AuditStatus = "flagged"
)

// PaymentIntent is a provisional payment record awaiting settlement.
type PaymentIntent struct {
	ID                string            `db:"id"`
	Address           string            `db:"address"`
	EventID           string            `db:"event_id"`
	ExpectedWei       *big.Int          `db:"expected_wei"`
	Status            IntentStatus      `db:"status"`
	Mode              ConfirmMode       `db:"mode"`
	TxHash            *string           `db:"tx_hash"`
	VerificationLevel VerificationLevel `db:"verification_level"`
	StartBlock        uint64            `db:"start_block"`
	ExpiresAt         time.Time         `db:"expires_at"`
	ConfirmedAt       *time.Time        `db:"confirmed_at"`
	AuditStatus       AuditStatus       `db:"audit_status"`
	AuditNote         *string           `db:"audit_note"`
	CreatedAt         time.Time         `db:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at"`
}

// IsExpired reports whether the intent's window has passed at t.
func (p *PaymentIntent) IsExpired(t time.Time) bool {
	return !t.Before(p.ExpiresAt)
}

// Winner is one paid position of a finalized event.
type Winner struct {
	Address           string            `json:"address"`
	Rank              int               `json:"rank"`
	Score             float64           `json:"score"`
	VerificationLevel VerificationLevel `json:"verificationLevel"`
	Amount            decimal.Decimal   `json:"amount"`    // WLD, rounded to the payout unit
	AmountWei         string            `json:"amountWei"` // base units, the Merkle leaf value
}

// EventWinners is the settlement commitment of a finalized event.
type EventWinners struct {
	EventID    string              `json:"eventId"`
	MerkleRoot string              `json:"merkleRoot"`
	Winners    []Winner            `json:"winners"`
	Proofs     map[string][]string `json:"proofs"` // keyed by lowercase address
	CreatedAt  time.Time           `json:"createdAt"`
}

// Champion is the permanent rank-1 record of an event.
type Champion struct {
	EventID   string    `db:"event_id"`
	Address   string    `db:"address"`
	Score     float64   `db:"score"`
	CreatedAt time.Time `db:"created_at"`
}
