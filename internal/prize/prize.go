// Package prize computes event payouts from final standings.
package prize

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"reflex-arena/internal/model"
)

var hundred = decimal.NewFromInt(100)

// ErrInvalidTable is returned for malformed percentage tables.
var ErrInvalidTable = errors.New("invalid prize table")

// Table holds the pool percentage of each paid rank, rank 1 first.
type Table []decimal.Decimal

// ParseTable parses percentages such as "24.5". The total may not exceed 100.
func ParseTable(raw []string) (Table, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTable)
	}
	table := make(Table, len(raw))
	total := decimal.Zero
	for i, s := range raw {
		pct, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: rank %d: %v", ErrInvalidTable, i+1, err)
		}
		if pct.IsNegative() {
			return nil, fmt.Errorf("%w: rank %d is negative", ErrInvalidTable, i+1)
		}
		table[i] = pct
		total = total.Add(pct)
	}
	if total.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: percentages sum to %s", ErrInvalidTable, total)
	}
	return table, nil
}

// Standing is one leaderboard row at freeze time.
type Standing struct {
	Address string
	Score   float64
	Tier    model.VerificationLevel
}

// Payout is a computed prize.
type Payout struct {
	Address string
	Rank    int
	Score   float64
	Tier    model.VerificationLevel
	Amount  decimal.Decimal
}

// MultiplierFunc returns the payout multiplier of a tier.
type MultiplierFunc func(model.VerificationLevel) decimal.Decimal

// DenseRanks ranks standings already ordered by score descending. Equal
// scores share a rank and the next distinct score takes the next integer.
func DenseRanks(standings []Standing) []int {
	ranks := make([]int, len(standings))
	rank := 0
	for i, s := range standings {
		if i == 0 || s.Score != standings[i-1].Score {
			rank++
		}
		ranks[i] = rank
	}
	return ranks
}

// Compute returns the payouts for standings. Each paid rank's share of pool
// is split equally between the entries tied at that rank, scaled by the
// tier multiplier and rounded down to decimals places. Entries whose amount
// rounds to zero are omitted.
func Compute(pool decimal.Decimal, standings []Standing, table Table, multiplier MultiplierFunc, decimals int32) []Payout {
	ordered := make([]Standing, len(standings))
	copy(ordered, standings)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	ranks := DenseRanks(ordered)
	tied := make(map[int]int)
	for _, r := range ranks {
		tied[r]++
	}

	payouts := make([]Payout, 0, len(table))
	for i, s := range ordered {
		rank := ranks[i]
		if rank > len(table) {
			break
		}
		share := pool.Mul(table[rank-1]).Div(hundred).Div(decimal.NewFromInt(int64(tied[rank])))
		amount := share.Mul(multiplier(s.Tier)).RoundDown(decimals)
		if !amount.IsPositive() {
			continue
		}
		payouts = append(payouts, Payout{
			Address: s.Address,
			Rank:    rank,
			Score:   s.Score,
			Tier:    s.Tier,
			Amount:  amount,
		})
	}
	return payouts
}

// Total sums payout amounts.
func Total(payouts []Payout) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payouts {
		sum = sum.Add(p.Amount)
	}
	return sum
}
