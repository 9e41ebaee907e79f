package service

import (
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const maxSeedLength = 128

// normalizeAddress validates a wallet address and returns it lowercased.
func normalizeAddress(address string) (string, error) {
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(address), nil
}

// normalizeTxHash validates a transaction hash and returns it lowercased.
func normalizeTxHash(hash string) (string, error) {
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return "", ErrInvalidTxHash
	}
	for _, c := range hash[2:] {
		if !isHexDigit(c) {
			return "", ErrInvalidTxHash
		}
	}
	return strings.ToLower(hash), nil
}

func validateEventID(eventID string) error {
	if strings.TrimSpace(eventID) == "" || len(eventID) > 64 {
		return ErrInvalidEventID
	}
	return nil
}

func validateSeed(seed string) error {
	if seed == "" || len(seed) > maxSeedLength {
		return ErrInvalidSeed
	}
	return nil
}

func validateIntentID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidIntent
	}
	return nil
}

func validateScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return ErrInvalidScore
	}
	return nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
