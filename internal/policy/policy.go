// Package policy holds the tier-dependent economics: entry fees and payout
// multipliers, plus WLD unit conversion.
package policy

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"reflex-arena/internal/config"
	"reflex-arena/internal/model"
)

// Policy maps a verification tier to its fee and payout multiplier.
type Policy struct {
	feeOrb        decimal.Decimal
	feeDevice     decimal.Decimal
	unverifiedMul decimal.Decimal
	decimals      int32
}

// New parses the configured fees and multiplier.
func New(pay *config.PaymentConfig, prize *config.PrizeConfig, chain *config.ChainConfig) (*Policy, error) {
	feeOrb, err := parsePositive("payment.fee_orb_wld", pay.FeeOrbWLD)
	if err != nil {
		return nil, err
	}
	feeDevice, err := parsePositive("payment.fee_device_wld", pay.FeeDeviceWLD)
	if err != nil {
		return nil, err
	}
	mul, err := decimal.NewFromString(prize.UnverifiedMultiplier)
	if err != nil {
		return nil, fmt.Errorf("invalid prize.unverified_multiplier: %w", err)
	}
	if mul.IsNegative() || mul.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("prize.unverified_multiplier must be in [0, 1], got %s", mul)
	}

	return &Policy{
		feeOrb:        feeOrb,
		feeDevice:     feeDevice,
		unverifiedMul: mul,
		decimals:      chain.TokenDecimals,
	}, nil
}

// FeeWLD returns the entry fee for tier in WLD.
func (p *Policy) FeeWLD(tier model.VerificationLevel) decimal.Decimal {
	if tier == model.VerificationOrb {
		return p.feeOrb
	}
	return p.feeDevice
}

// Fee returns the entry fee for tier in token base units.
func (p *Policy) Fee(tier model.VerificationLevel) *big.Int {
	return ToBaseUnits(p.FeeWLD(tier), p.decimals)
}

// PayoutMultiplier scales a prize share by tier. Orb-verified users receive
// the full share.
func (p *Policy) PayoutMultiplier(tier model.VerificationLevel) decimal.Decimal {
	if tier == model.VerificationOrb {
		return decimal.NewFromInt(1)
	}
	return p.unverifiedMul
}

// Decimals returns the token's decimal places.
func (p *Policy) Decimals() int32 {
	return p.decimals
}

// ToBaseUnits converts a WLD amount to base units, truncating sub-unit dust.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts base units to WLD.
func FromBaseUnits(units *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, -decimals)
}

func parsePositive(key, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
