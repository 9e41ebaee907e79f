package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reflex-arena/internal/model"
	"reflex-arena/internal/service"
)

const alice = "0x00000000000000000000000000000000000a11ce"

type fakeRuns struct {
	startErr  error
	finishErr error
	gotStart  struct{ eventID, address, seed string }
	gotFinish service.FinishRunInput
	gotLimit  int
}

func (f *fakeRuns) StartRun(_ context.Context, eventID, address, seed string, startedAt time.Time) (*service.StartRunResult, error) {
	f.gotStart.eventID, f.gotStart.address, f.gotStart.seed = eventID, address, seed
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &service.StartRunResult{StartToken: "tok", Seed: "server-seed", StartedAt: startedAt, TriesRemaining: 0}, nil
}

func (f *fakeRuns) FinishRun(_ context.Context, in service.FinishRunInput) (*service.FinishRunResult, error) {
	f.gotFinish = in
	if f.finishErr != nil {
		return nil, f.finishErr
	}
	return &service.FinishRunResult{Score: in.ClaimedScore, BestScore: in.ClaimedScore, Rank: 1}, nil
}

func (f *fakeRuns) Leaderboard(_ context.Context, eventID string, limit int) ([]*model.LeaderboardEntry, error) {
	f.gotLimit = limit
	if eventID == "missing" {
		return nil, service.ErrEventNotFound
	}
	return []*model.LeaderboardEntry{{Address: alice, EventID: eventID, TotalScore: 7, Rank: 1}}, nil
}

type fakeLedger struct{}

func (fakeLedger) GetEntitlement(context.Context, string, string) (*service.Entitlement, error) {
	return &service.Entitlement{Balance: 1, TriesRemaining: 1, MaxTries: 1, Mode: "single"}, nil
}

type fakePayments struct {
	gotTier model.VerificationLevel
	err     error
}

func (f *fakePayments) CreateIntent(_ context.Context, _, _ string, tier model.VerificationLevel) (*service.Intent, error) {
	f.gotTier = tier
	return &service.Intent{IntentID: "b9c1f7f2-6f2b-4c34-9d5e-0d7d1b0f4a11", ExpectedAmount: decimal.RequireFromString("0.5")}, nil
}

func (f *fakePayments) ConfirmVerified(context.Context, string, string, string) (*service.ConfirmResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.ConfirmResult{Granted: true}, nil
}

func (f *fakePayments) ConfirmTrusted(context.Context, string, string, string) (*service.ConfirmResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.ConfirmResult{Granted: true}, nil
}

type fakePrizes struct{}

func (fakePrizes) GetClaimProof(_ context.Context, eventID, address string) (*service.ClaimProof, error) {
	if eventID == "open" {
		return nil, service.ErrNotFinalized
	}
	return &service.ClaimProof{IsWinner: address == alice, Rank: 1, Proof: []string{}, MerkleRoot: "0xroot"}, nil
}

func (fakePrizes) Champion(_ context.Context, eventID string) (*model.Champion, error) {
	return &model.Champion{EventID: eventID, Address: alice, Score: 12}, nil
}

// newTestApp mounts the handlers behind a middleware that trusts the
// identity headers, like the session middleware of the server.
func newTestApp(runs *fakeRuns, payments *fakePayments) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		if s, err := (HeaderSessionProvider{}).Session(c); err == nil {
			SetSession(c, s)
		}
		return c.Next()
	})

	rh := NewRunHandler(runs, fakeLedger{})
	ph := NewPaymentHandler(payments)
	pz := NewPrizeHandler(fakePrizes{})
	app.Post("/runs/start", rh.StartRun)
	app.Post("/runs/finish", rh.FinishRun)
	app.Get("/events/:id/entitlement", rh.Entitlement)
	app.Get("/events/:id/leaderboard", rh.Leaderboard)
	app.Post("/payments/intents", ph.CreateIntent)
	app.Post("/payments/confirm", ph.Confirm)
	app.Get("/events/:id/claim", pz.Claim)
	app.Get("/events/:id/champion", pz.Champion)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func orbSession() map[string]string {
	return map[string]string{"X-Wallet-Address": strings.ToUpper(alice[:2]) + alice[2:], "X-Verification-Level": "ORB"}
}

func TestStartRunUsesSessionAddress(t *testing.T) {
	runs := &fakeRuns{}
	app := newTestApp(runs, &fakePayments{})

	status, body := do(t, app, http.MethodPost, "/runs/start", `{"eventId":"e1","seed":"abc"}`, orbSession())
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "tok", body["startToken"])
	assert.Equal(t, "e1", runs.gotStart.eventID)
	assert.Equal(t, alice, runs.gotStart.address)
	assert.Equal(t, "abc", runs.gotStart.seed)
}

func TestSessionRules(t *testing.T) {
	app := newTestApp(&fakeRuns{}, &fakePayments{})

	status, body := do(t, app, http.MethodPost, "/runs/start", `{"eventId":"e1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "no_session", errorCode(body))

	other := `{"eventId":"e1","address":"0x000000000000000000000000000000000000b0b0"}`
	status, body = do(t, app, http.MethodPost, "/runs/start", other, orbSession())
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "address_mismatch", errorCode(body))

	same := fmt.Sprintf(`{"eventId":"e1","address":%q}`, strings.ToUpper(alice))
	status, _ = do(t, app, http.MethodPost, "/runs/start", same, orbSession())
	assert.Equal(t, http.StatusOK, status, "addresses compare case-insensitively")

	status, body = do(t, app, http.MethodPost, "/runs/start", `{not json`, orbSession())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_body", errorCode(body))
}

func TestFinishRunPassesTierAndMapsErrors(t *testing.T) {
	runs := &fakeRuns{}
	app := newTestApp(runs, &fakePayments{})

	body := `{"eventId":"e1","seed":"s","inputLog":[100,200],"startToken":"tok","startedAt":"2026-01-01T00:00:00.123Z","claimedScore":4}`
	status, out := do(t, app, http.MethodPost, "/runs/finish", body, orbSession())
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, out["rank"])
	assert.Equal(t, model.VerificationOrb, runs.gotFinish.Tier)
	assert.Equal(t, []int64{100, 200}, runs.gotFinish.InputLog)
	assert.Equal(t, int64(1767225600123), runs.gotFinish.StartedAt.UnixMilli())

	runs.finishErr = fmt.Errorf("%w: tap 3 out of order", service.ErrInvalidInputs)
	status, out = do(t, app, http.MethodPost, "/runs/finish", body, orbSession())
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_inputs", errorCode(out))
}

func TestReadRoutes(t *testing.T) {
	runs := &fakeRuns{}
	app := newTestApp(runs, &fakePayments{})

	status, out := do(t, app, http.MethodGet, "/events/e1/leaderboard?limit=10", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 10, runs.gotLimit)
	assert.Len(t, out["entries"], 1)

	status, out = do(t, app, http.MethodGet, "/events/missing/leaderboard", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "event_not_found", errorCode(out))

	status, out = do(t, app, http.MethodGet, "/events/e1/entitlement", "", orbSession())
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, out["triesRemaining"])

	status, out = do(t, app, http.MethodGet, "/events/e1/claim?address="+alice, "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["isWinner"])

	status, _ = do(t, app, http.MethodGet, "/events/e1/claim", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, out = do(t, app, http.MethodGet, "/events/open/claim", "", orbSession())
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(out))

	status, out = do(t, app, http.MethodGet, "/events/e1/champion", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, alice, out["address"])
}

func TestPaymentRoutes(t *testing.T) {
	payments := &fakePayments{}
	app := newTestApp(&fakeRuns{}, payments)

	status, out := do(t, app, http.MethodPost, "/payments/intents", `{"eventId":"e1"}`,
		map[string]string{"X-Wallet-Address": alice})
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "0.5", out["expectedAmount"])
	assert.Equal(t, model.VerificationDevice, payments.gotTier, "missing level means device")

	status, out = do(t, app, http.MethodPost, "/payments/confirm", `{"intentId":"x","txHash":"0x1"}`, orbSession())
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["granted"])

	payments.err = service.ErrPaymentPending
	status, out = do(t, app, http.MethodPost, "/payments/confirm", `{"intentId":"x","txHash":"0x1"}`, orbSession())
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "payment_pending", errorCode(out))
}

func TestSystemErrorsAreGeneric(t *testing.T) {
	runs := &fakeRuns{startErr: errors.New("failed to lock credit: connection reset")}
	app := newTestApp(runs, &fakePayments{})

	status, out := do(t, app, http.MethodPost, "/runs/start", `{"eventId":"e1"}`, orbSession())
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", errorCode(out))
	assert.NotContains(t, fmt.Sprint(out), "connection reset")
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidAddress, http.StatusBadRequest},
		{ErrNoSession, http.StatusUnauthorized},
		{ErrAddressMismatch, http.StatusForbidden},
		{service.ErrNotOwner, http.StatusForbidden},
		{service.ErrNoCredit, http.StatusPaymentRequired},
		{service.ErrEventFrozen, http.StatusPaymentRequired},
		{service.ErrScoreMismatch, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: 0xabc", service.ErrTxUsed), http.StatusConflict},
		{service.ErrAlreadyFinalized, http.StatusConflict},
		{service.ErrEventNotFound, http.StatusNotFound},
		{fiber.ErrMethodNotAllowed, http.StatusMethodNotAllowed},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}
