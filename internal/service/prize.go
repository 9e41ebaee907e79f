package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"reflex-arena/internal/archive"
	"reflex-arena/internal/cache"
	"reflex-arena/internal/config"
	"reflex-arena/internal/merkle"
	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
	"reflex-arena/internal/policy"
	"reflex-arena/internal/prize"
	"reflex-arena/internal/repository"
)

const publishTimeout = 30 * time.Second

// ClaimProof is what a payer needs to claim a prize on chain.
type ClaimProof struct {
	IsWinner   bool            `json:"isWinner"`
	Rank       int             `json:"rank,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	AmountWei  string          `json:"amountWei,omitempty"`
	Proof      []string        `json:"proof"`
	MerkleRoot string          `json:"merkleRoot"`
}

// PrizeService freezes events and commits their payouts.
type PrizeService struct {
	runner    *db.TxRunner
	events    *repository.EventRepository
	board     *repository.LeaderboardRepository
	winners   *repository.WinnersRepository
	policy    *policy.Policy
	table     prize.Table
	decimals  int32
	publisher archive.Publisher
	cache     cache.Cache
	now       func() time.Time
}

// PrizeServiceDeps groups the collaborators of PrizeService.
type PrizeServiceDeps struct {
	Runner      *db.TxRunner
	Events      *repository.EventRepository
	Leaderboard *repository.LeaderboardRepository
	Winners     *repository.WinnersRepository
	Policy      *policy.Policy
	Publisher   archive.Publisher
	Cache       cache.Cache
}

// NewPrizeService creates a PrizeService.
func NewPrizeService(deps PrizeServiceDeps, cfg *config.PrizeConfig) (*PrizeService, error) {
	table, err := prize.ParseTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = archive.Noop{}
	}
	return &PrizeService{
		runner:    deps.Runner,
		events:    deps.Events,
		board:     deps.Leaderboard,
		winners:   deps.Winners,
		policy:    deps.Policy,
		table:     table,
		decimals:  cfg.PayoutDecimals,
		publisher: publisher,
		cache:     deps.Cache,
		now:       time.Now,
	}, nil
}

// Finalize freezes the event and commits its payouts in one transaction.
// A second call fails with ErrAlreadyFinalized and changes nothing.
func (s *PrizeService) Finalize(ctx context.Context, eventID string) (*model.EventWinners, error) {
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}

	var out *model.EventWinners
	err := s.runner.Run(ctx, func(tx pgx.Tx) error {
		events := s.events.WithTx(tx)
		event, err := events.GetForUpdate(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrEventNotFound) {
				return ErrEventNotFound
			}
			return err
		}
		if event.Frozen {
			return ErrAlreadyFinalized
		}
		if _, err := events.Freeze(ctx, eventID, s.now()); err != nil {
			return err
		}

		entries, err := s.board.WithTx(tx).Standings(ctx, eventID)
		if err != nil {
			return err
		}

		winners, err := s.commit(eventID, event.PrizePoolWLD, entries)
		if err != nil {
			return err
		}

		repo := s.winners.WithTx(tx)
		out, err = repo.Create(ctx, winners)
		if err != nil {
			if errors.Is(err, repository.ErrWinnersExist) {
				return ErrAlreadyFinalized
			}
			return err
		}
		if len(entries) > 0 {
			top := entries[0]
			if err := repo.CreateChampion(ctx, &model.Champion{EventID: eventID, Address: top.Address, Score: top.TotalScore}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.DeletePrefix(leaderboardPrefix(eventID))
	}

	log.Info().
		Str("event_id", eventID).
		Str("merkle_root", out.MerkleRoot).
		Int("winners", len(out.Winners)).
		Msg("Event finalized")

	s.publish(ctx, out)
	return out, nil
}

// commit computes payouts and the Merkle commitment over them.
func (s *PrizeService) commit(eventID string, pool decimal.Decimal, entries []*model.LeaderboardEntry) (*model.EventWinners, error) {
	standings := make([]prize.Standing, len(entries))
	for i, e := range entries {
		standings[i] = prize.Standing{Address: e.Address, Score: e.TotalScore, Tier: e.VerificationLevel}
	}
	payouts := prize.Compute(pool, standings, s.table, s.policy.PayoutMultiplier, s.decimals)

	out := &model.EventWinners{
		EventID:    eventID,
		MerkleRoot: common.Hash{}.Hex(),
		Winners:    make([]model.Winner, len(payouts)),
		Proofs:     make(map[string][]string, len(payouts)),
	}
	if len(payouts) == 0 {
		return out, nil
	}

	leaves := make([]common.Hash, len(payouts))
	for i, p := range payouts {
		wei := policy.ToBaseUnits(p.Amount, s.policy.Decimals())
		leaves[i] = merkle.Leaf(common.HexToAddress(p.Address), wei)
		out.Winners[i] = model.Winner{
			Address:           p.Address,
			Rank:              p.Rank,
			Score:             p.Score,
			VerificationLevel: p.Tier,
			Amount:            p.Amount,
			AmountWei:         wei.String(),
		}
	}

	tree, err := merkle.New(leaves)
	if err != nil {
		return nil, fmt.Errorf("failed to build merkle tree: %w", err)
	}
	out.MerkleRoot = tree.Root().Hex()
	for i, w := range out.Winners {
		proof, err := tree.Proof(leaves[i])
		if err != nil {
			return nil, fmt.Errorf("failed to build proof for %s: %w", w.Address, err)
		}
		hexes := make([]string, len(proof))
		for j, h := range proof {
			hexes[j] = h.Hex()
		}
		out.Proofs[w.Address] = hexes
	}
	return out, nil
}

// publish uploads the snapshot. Failures are logged; the database record is
// authoritative.
func (s *PrizeService) publish(ctx context.Context, w *model.EventWinners) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, w); err != nil {
		log.Error().Err(err).Str("event_id", w.EventID).Msg("Failed to archive winners")
	}
}

// GetClaimProof returns the prize and proof of address in a finalized event.
func (s *PrizeService) GetClaimProof(ctx context.Context, eventID, address string) (*ClaimProof, error) {
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}

	w, err := s.winners.Get(ctx, eventID)
	if err != nil {
		if !errors.Is(err, repository.ErrWinnersNotFound) {
			return nil, err
		}
		if _, err := s.events.GetByID(ctx, eventID); errors.Is(err, repository.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, ErrNotFinalized
	}

	claim := &ClaimProof{MerkleRoot: w.MerkleRoot, Amount: decimal.Zero, Proof: []string{}}
	for _, winner := range w.Winners {
		if winner.Address != address {
			continue
		}
		claim.IsWinner = true
		claim.Rank = winner.Rank
		claim.Amount = winner.Amount
		claim.AmountWei = winner.AmountWei
		claim.Proof = w.Proofs[address]
		break
	}
	return claim, nil
}

// Champion returns the rank-1 record of a finalized event.
func (s *PrizeService) Champion(ctx context.Context, eventID string) (*model.Champion, error) {
	c, err := s.winners.GetChampion(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrWinnersNotFound) {
			return nil, ErrNotFinalized
		}
		return nil, err
	}
	return c, nil
}
