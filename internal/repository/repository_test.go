package repository

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
	"reflex-arena/internal/pkg/db/dbtest"
)

const (
	alice = "0x00000000000000000000000000000000000a11ce"
	bob   = "0x0000000000000000000000000000000000000b0b"
	carol = "0x00000000000000000000000000000000000ca401"
)

func TestEventRepository(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()
	repo := NewEventRepository(pool)

	start := time.Now().Add(-time.Hour).Truncate(time.Microsecond)
	end := start.Add(24 * time.Hour)

	e, err := repo.Create(ctx, "evt-1", start, end, decimal.RequireFromString("250.5"))
	require.NoError(t, err)
	assert.True(t, e.PrizePoolWLD.Equal(decimal.RequireFromString("250.5")))
	assert.True(t, e.IsActive(time.Now()))

	_, err = repo.Create(ctx, "evt-1", start, end, decimal.Zero)
	assert.ErrorIs(t, err, ErrEventExists)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)

	updated, err := repo.Update(ctx, "evt-1", start, end.Add(time.Hour), decimal.NewFromInt(300))
	require.NoError(t, err)
	assert.True(t, updated.EndsAt.Equal(end.Add(time.Hour)))

	frozen, err := repo.Freeze(ctx, "evt-1", time.Now())
	require.NoError(t, err)
	assert.True(t, frozen)

	frozen, err = repo.Freeze(ctx, "evt-1", time.Now())
	require.NoError(t, err)
	assert.False(t, frozen, "freeze flips exactly once")

	got, err := repo.GetByID(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, got.Frozen)
	assert.NotNil(t, got.FrozenAt)
	assert.False(t, got.IsActive(time.Now()))
}

func TestCreditRepository(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()
	dbtest.SeedEvent(t, pool, "evt", "100")
	repo := NewCreditRepository(pool)

	_, err := repo.Get(ctx, alice, "evt")
	assert.ErrorIs(t, err, ErrCreditNotFound)

	c, err := repo.EnsureForUpdate(ctx, alice, "evt")
	require.NoError(t, err)
	assert.Zero(t, c.Balance)

	c, err = repo.AddPurchased(ctx, alice, "evt", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Balance)
	assert.Equal(t, 2, c.TotalPurchased)
	assert.False(t, c.Used)

	c, err = repo.Save(ctx, alice, "evt", 1, true)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Balance)
	assert.True(t, c.Used)

	count, err := repo.GetTryCount(ctx, alice, "evt")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = repo.EnsureTryCountForUpdate(ctx, alice, "evt")
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = repo.IncrementTryCount(ctx, alice, "evt")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err := repo.DeleteForEndedEvents(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed, "event still running")

	removed, err = repo.DeleteForEndedEvents(ctx, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	count, err = repo.GetTryCount(ctx, alice, "evt")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreditBalanceCannotGoNegative(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()
	dbtest.SeedEvent(t, pool, "evt", "100")
	repo := NewCreditRepository(pool)

	_, err := repo.EnsureForUpdate(ctx, alice, "evt")
	require.NoError(t, err)
	_, err = repo.Save(ctx, alice, "evt", -1, true)
	assert.Error(t, err)
}

func TestRunRepositoryDuplicateToken(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()
	dbtest.SeedEvent(t, pool, "evt", "100")
	repo := NewRunRepository(pool)

	run := &model.Run{
		StartToken: "tok-1",
		EventID:    "evt",
		Address:    alice,
		Seed:       "seed",
		StartedAt:  time.Now(),
		Score:      4.5,
		TapCount:   3,
	}
	created, err := repo.Create(ctx, run)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	_, err = repo.Create(ctx, run)
	assert.ErrorIs(t, err, ErrDuplicateRun)

	exists, err := repo.ExistsByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, 4.5, got.Score)

	n, err := repo.CountByAddress(ctx, alice, "evt")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLeaderboardRanks(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()
	dbtest.SeedEvent(t, pool, "evt", "100")
	repo := NewLeaderboardRepository(pool)

	for _, s := range []struct {
		addr  string
		score float64
	}{{alice, 10}, {bob, 10}, {carol, 7}} {
		_, err := repo.EnsureForUpdate(ctx, s.addr, "evt", model.VerificationOrb)
		require.NoError(t, err)
		_, err = repo.SetScore(ctx, s.addr, "evt", s.score, model.VerificationOrb)
		require.NoError(t, err)
	}

	rank, err := repo.DenseRank(ctx, "evt", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
	rank, err = repo.DenseRank(ctx, "evt", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, rank, "dense rank after a two-way tie")

	top, err := repo.Top(ctx, "evt", 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []int{1, 1, 2}, []int{top[0].Rank, top[1].Rank, top[2].Rank})
	assert.Equal(t, alice, top[0].Address, "earlier arrival first among equals")

	standings, err := repo.Standings(ctx, "evt")
	require.NoError(t, err)
	assert.Len(t, standings, 3)
	assert.Equal(t, carol, standings[2].Address)
}

func TestIntentRepository(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()
	dbtest.SeedEvent(t, pool, "evt", "100")
	repo := NewIntentRepository(pool)

	wei, _ := new(big.Int).SetString("1000000000000000000", 10)
	now := time.Now()
	p, err := repo.Create(ctx, &model.PaymentIntent{
		ID:                uuid.NewString(),
		Address:           alice,
		EventID:           "evt",
		ExpectedWei:       wei,
		VerificationLevel: model.VerificationDevice,
		StartBlock:        1234,
		ExpiresAt:         now.Add(15 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, model.IntentPending, p.Status)
	assert.Equal(t, model.ModeVerified, p.Mode)
	assert.Equal(t, model.AuditNone, p.AuditStatus)
	assert.Equal(t, 0, p.ExpectedWei.Cmp(wei))
	assert.Equal(t, uint64(1234), p.StartBlock)

	reuse, err := repo.FindReusable(ctx, alice, "evt", now)
	require.NoError(t, err)
	assert.Equal(t, p.ID, reuse.ID)
	_, err = repo.FindReusable(ctx, alice, "evt", now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrIntentNotFound)

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	confirmed, err := repo.MarkConfirmed(ctx, p.ID, "0xhash", model.ModeTrusted, model.AuditPending, now)
	require.NoError(t, err)
	assert.Equal(t, model.IntentConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.TxHash)
	assert.Equal(t, "0xhash", *confirmed.TxHash)

	_, err = repo.MarkConfirmed(ctx, p.ID, "0xhash", model.ModeTrusted, model.AuditPending, now)
	assert.ErrorIs(t, err, ErrIntentNotFound, "no longer pending")

	n, err := repo.CountTrusted(ctx, alice, "evt")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	auditing, err := repo.ListAuditPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, auditing, 1)

	ok, err := repo.SetAuditResult(ctx, p.ID, model.AuditFlagged, "no transfer")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.SetAuditResult(ctx, p.ID, model.AuditPassed, "")
	require.NoError(t, err)
	assert.False(t, ok, "settled audit is final")

	second, err := repo.Create(ctx, &model.PaymentIntent{
		ID: uuid.NewString(), Address: bob, EventID: "evt", ExpectedWei: wei,
		VerificationLevel: model.VerificationOrb, ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	_, err = repo.MarkConfirmed(ctx, second.ID, "0xhash", model.ModeVerified, model.AuditNone, now)
	assert.ErrorIs(t, err, ErrTxHashUsed)

	byHash, err := repo.GetByTxHash(ctx, "0xhash")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byHash.ID)

	changed, err := repo.MarkTerminal(ctx, second.ID, model.IntentExpired, nil)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestIntentLockBlocksSecondConfirm(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()
	dbtest.SeedEvent(t, pool, "evt", "100")
	repo := NewIntentRepository(pool)
	runner := db.NewTxRunner(pool, 0)

	p, err := repo.Create(ctx, &model.PaymentIntent{
		ID: uuid.NewString(), Address: alice, EventID: "evt", ExpectedWei: big.NewInt(1),
		VerificationLevel: model.VerificationOrb, ExpiresAt: time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	err = runner.Run(ctx, func(tx pgx.Tx) error {
		locked, err := repo.WithTx(tx).GetForUpdate(ctx, p.ID)
		require.NoError(t, err)
		_, err = repo.WithTx(tx).MarkConfirmed(ctx, locked.ID, "0xabc", model.ModeVerified, model.AuditNone, time.Now())
		return err
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentConfirmed, got.Status)
}

func TestWinnersRepository(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()
	dbtest.SeedEvent(t, pool, "evt", "100")
	repo := NewWinnersRepository(pool)

	w := &model.EventWinners{
		EventID:    "evt",
		MerkleRoot: "0xroot",
		Winners: []model.Winner{
			{Address: alice, Rank: 1, Score: 9, VerificationLevel: model.VerificationOrb, Amount: decimal.RequireFromString("24.5"), AmountWei: "24500000000000000000"},
		},
		Proofs: map[string][]string{alice: {}},
	}
	created, err := repo.Create(ctx, w)
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = repo.Create(ctx, w)
	assert.ErrorIs(t, err, ErrWinnersExist)

	got, err := repo.Get(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, "0xroot", got.MerkleRoot)
	require.Len(t, got.Winners, 1)
	assert.True(t, got.Winners[0].Amount.Equal(decimal.RequireFromString("24.5")))
	assert.Contains(t, got.Proofs, alice)

	_, err = repo.Get(ctx, "other")
	assert.ErrorIs(t, err, ErrWinnersNotFound)

	require.NoError(t, repo.CreateChampion(ctx, &model.Champion{EventID: "evt", Address: alice, Score: 9}))
	champ, err := repo.GetChampion(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, alice, champ.Address)
}
