package policy

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reflex-arena/internal/config"
	"reflex-arena/internal/model"
)

func newTestPolicy(t *testing.T) *Policy {
	p, err := New(
		&config.PaymentConfig{FeeOrbWLD: "0.5", FeeDeviceWLD: "1"},
		&config.PrizeConfig{UnverifiedMultiplier: "0.5"},
		&config.ChainConfig{TokenDecimals: 18},
	)
	require.NoError(t, err)
	return p
}

func TestFeeByTier(t *testing.T) {
	p := newTestPolicy(t)

	half, _ := new(big.Int).SetString("500000000000000000", 10)
	one, _ := new(big.Int).SetString("1000000000000000000", 10)

	assert.Equal(t, 0, p.Fee(model.VerificationOrb).Cmp(half))
	assert.Equal(t, 0, p.Fee(model.VerificationDevice).Cmp(one))
	assert.Equal(t, 0, p.Fee(model.VerificationLevel("unknown")).Cmp(one))
}

func TestPayoutMultiplier(t *testing.T) {
	p := newTestPolicy(t)
	assert.True(t, p.PayoutMultiplier(model.VerificationOrb).Equal(decimal.NewFromInt(1)))
	assert.True(t, p.PayoutMultiplier(model.VerificationDevice).Equal(decimal.RequireFromString("0.5")))
}

func TestNewRejectsBadConfig(t *testing.T) {
	chain := &config.ChainConfig{TokenDecimals: 18}

	_, err := New(&config.PaymentConfig{FeeOrbWLD: "abc", FeeDeviceWLD: "1"}, &config.PrizeConfig{UnverifiedMultiplier: "0.5"}, chain)
	assert.Error(t, err)

	_, err = New(&config.PaymentConfig{FeeOrbWLD: "0", FeeDeviceWLD: "1"}, &config.PrizeConfig{UnverifiedMultiplier: "0.5"}, chain)
	assert.Error(t, err)

	_, err = New(&config.PaymentConfig{FeeOrbWLD: "1", FeeDeviceWLD: "1"}, &config.PrizeConfig{UnverifiedMultiplier: "1.5"}, chain)
	assert.Error(t, err)
}

func TestUnitConversion(t *testing.T) {
	units := ToBaseUnits(decimal.RequireFromString("12.25"), 18)
	assert.Equal(t, "12250000000000000000", units.String())
	assert.Equal(t, "12.25", FromBaseUnits(units, 18).String())

	assert.Equal(t, "1", ToBaseUnits(decimal.RequireFromString("1.9"), 0).String())
}
