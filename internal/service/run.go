package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"reflex-arena/internal/cache"
	"reflex-arena/internal/config"
	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
	"reflex-arena/internal/replay"
	"reflex-arena/internal/repository"
	"reflex-arena/internal/runtoken"
)

const (
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 100
)

// StartRunResult is returned to the client when an attempt begins.
type StartRunResult struct {
	StartToken     string    `json:"startToken"`
	Seed           string    `json:"seed"`
	StartedAt      time.Time `json:"startedAt"`
	TriesRemaining int       `json:"triesRemaining"`
}

// FinishRunInput is a submitted attempt.
type FinishRunInput struct {
	EventID      string
	Address      string
	Seed         string
	InputLog     []int64
	StartToken   string
	StartedAt    time.Time
	ClaimedScore float64
	Tier         model.VerificationLevel
}

// FinishRunResult is the accepted outcome of an attempt.
type FinishRunResult struct {
	Score     float64 `json:"score"`
	BestScore float64 `json:"bestScore"`
	Rank      int     `json:"rank"`
}

// RunService starts and finishes attempts.
type RunService struct {
	runner    *db.TxRunner
	events    *repository.EventRepository
	runs      *repository.RunRepository
	board     *repository.LeaderboardRepository
	ledger    *CreditLedger
	tokens    *runtoken.Authority
	validator *replay.Validator
	cache     cache.Cache
	cacheTTL  time.Duration
	maxRunAge time.Duration
	clockSkew time.Duration
	now       func() time.Time
}

// RunServiceDeps groups the collaborators of RunService.
type RunServiceDeps struct {
	Runner      *db.TxRunner
	Events      *repository.EventRepository
	Runs        *repository.RunRepository
	Leaderboard *repository.LeaderboardRepository
	Ledger      *CreditLedger
	Tokens      *runtoken.Authority
	Validator   *replay.Validator
	Cache       cache.Cache
}

// NewRunService creates a RunService.
func NewRunService(deps RunServiceDeps, gameCfg *config.GameConfig, cacheCfg *config.CacheConfig) *RunService {
	return &RunService{
		runner:    deps.Runner,
		events:    deps.Events,
		runs:      deps.Runs,
		board:     deps.Leaderboard,
		ledger:    deps.Ledger,
		tokens:    deps.Tokens,
		validator: deps.Validator,
		cache:     deps.Cache,
		cacheTTL:  cacheCfg.LeaderboardTTL,
		maxRunAge: gameCfg.MaxRunAge,
		clockSkew: gameCfg.ClockSkew,
		now:       time.Now,
	}
}

// StartRun consumes one attempt and issues a start token bound to a seed.
// An empty seed is replaced by a fresh server seed; a zero startedAt means now.
func (s *RunService) StartRun(ctx context.Context, eventID, address, seed string, startedAt time.Time) (*StartRunResult, error) {
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if startedAt.IsZero() {
		startedAt = now
	}
	if d := startedAt.Sub(now); d > s.clockSkew || d < -s.clockSkew {
		return nil, ErrInvalidStart
	}
	startedAt = time.UnixMilli(startedAt.UnixMilli())

	if seed == "" {
		seed, err = newSeed()
		if err != nil {
			return nil, err
		}
	} else if err := validateSeed(seed); err != nil {
		return nil, err
	}

	var consumed *ConsumeResult
	err = s.runner.Run(ctx, func(tx pgx.Tx) error {
		event, err := s.events.WithTx(tx).GetForShare(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrEventNotFound) {
				return ErrEventNotFound
			}
			return err
		}
		if event.Frozen {
			return ErrEventFrozen
		}
		if !event.IsActive(now) {
			return ErrEventNotActive
		}

		consumed, err = s.ledger.ConsumeTx(ctx, tx, address, eventID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("event_id", eventID).
		Str("address", address).
		Int("attempts_used", consumed.AttemptsUsed).
		Msg("Run started")

	return &StartRunResult{
		StartToken:     s.tokens.Issue(eventID, address, seed, startedAt),
		Seed:           seed,
		StartedAt:      startedAt,
		TriesRemaining: consumed.TriesRemaining,
	}, nil
}

// FinishRun verifies and records an attempt. The leaderboard keeps the best
// score per address.
func (s *RunService) FinishRun(ctx context.Context, in FinishRunInput) (*FinishRunResult, error) {
	if err := validateEventID(in.EventID); err != nil {
		return nil, err
	}
	address, err := normalizeAddress(in.Address)
	if err != nil {
		return nil, err
	}
	if err := validateSeed(in.Seed); err != nil {
		return nil, err
	}
	if err := validateScore(in.ClaimedScore); err != nil {
		return nil, err
	}
	startedAt := time.UnixMilli(in.StartedAt.UnixMilli())

	logger := log.With().Str("event_id", in.EventID).Str("address", address).Logger()

	if !s.tokens.Verify(in.EventID, address, in.Seed, startedAt, in.StartToken) {
		logger.Warn().Msg("Run rejected: invalid start token")
		return nil, ErrInvalidToken
	}
	if s.maxRunAge > 0 && s.now().Sub(startedAt) > s.maxRunAge {
		return nil, ErrRunExpired
	}

	exists, err := s.runs.ExistsByToken(ctx, in.StartToken)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateRun
	}

	verdict := s.validator.Validate(in.InputLog, in.Seed, in.ClaimedScore, startedAt)
	if !verdict.Valid {
		logger.Warn().
			Err(verdict.Err).
			Float64("claimed", in.ClaimedScore).
			Float64("replayed", verdict.ServerScore).
			Int("taps", len(in.InputLog)).
			Msg("Run rejected by replay")
		if errors.Is(verdict.Err, replay.ErrScoreMismatch) {
			return nil, fmt.Errorf("%w: %v", ErrScoreMismatch, verdict.Err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidInputs, verdict.Err)
	}

	tier := model.ParseVerificationLevel(string(in.Tier))
	var best float64
	err = s.runner.Run(ctx, func(tx pgx.Tx) error {
		event, err := s.events.WithTx(tx).GetForShare(ctx, in.EventID)
		if err != nil {
			if errors.Is(err, repository.ErrEventNotFound) {
				return ErrEventNotFound
			}
			return err
		}
		if event.Frozen {
			return ErrEventFrozen
		}

		_, err = s.runs.WithTx(tx).Create(ctx, &model.Run{
			StartToken: in.StartToken,
			EventID:    in.EventID,
			Address:    address,
			Seed:       in.Seed,
			StartedAt:  startedAt,
			Score:      verdict.ServerScore,
			TapCount:   len(in.InputLog),
		})
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateRun) {
				return ErrDuplicateRun
			}
			return err
		}

		board := s.board.WithTx(tx)
		entry, err := board.EnsureForUpdate(ctx, address, in.EventID, tier)
		if err != nil {
			return err
		}
		best = entry.TotalScore
		if verdict.ServerScore > entry.TotalScore {
			if _, err := board.SetScore(ctx, address, in.EventID, verdict.ServerScore, tier); err != nil {
				return err
			}
			best = verdict.ServerScore
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateLeaderboard(in.EventID)

	rank, err := s.board.DenseRank(ctx, in.EventID, best)
	if err != nil {
		return nil, err
	}

	logger.Info().Float64("score", verdict.ServerScore).Float64("best", best).Int("rank", rank).Msg("Run recorded")

	return &FinishRunResult{Score: verdict.ServerScore, BestScore: best, Rank: rank}, nil
}

// Leaderboard returns the top entries of an event through the cache.
func (s *RunService) Leaderboard(ctx context.Context, eventID string, limit int) ([]*model.LeaderboardEntry, error) {
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	limit = min(limit, maxLeaderboardLimit)

	key := leaderboardKey(eventID, limit)
	if v, ok := s.cache.Get(key); ok {
		return v.([]*model.LeaderboardEntry), nil
	}

	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	entries, err := s.board.Top(ctx, eventID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*model.LeaderboardEntry{}
	}
	s.cache.Set(key, entries, s.cacheTTL)
	return entries, nil
}

func (s *RunService) invalidateLeaderboard(eventID string) {
	s.cache.DeletePrefix(leaderboardPrefix(eventID))
}

func leaderboardPrefix(eventID string) string {
	return "leaderboard:" + eventID + ":"
}

func leaderboardKey(eventID string, limit int) string {
	return fmt.Sprintf("%s%d", leaderboardPrefix(eventID), limit)
}

func newSeed() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}
