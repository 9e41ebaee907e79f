package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"reflex-arena/internal/model"
	"reflex-arena/internal/service"
)

// RunService is the run surface the handlers need.
type RunService interface {
	StartRun(ctx context.Context, eventID, address, seed string, startedAt time.Time) (*service.StartRunResult, error)
	FinishRun(ctx context.Context, in service.FinishRunInput) (*service.FinishRunResult, error)
	Leaderboard(ctx context.Context, eventID string, limit int) ([]*model.LeaderboardEntry, error)
}

// EntitlementReader previews what an address may still do in an event.
type EntitlementReader interface {
	GetEntitlement(ctx context.Context, address, eventID string) (*service.Entitlement, error)
}

// RunHandler serves attempts, entitlement previews and leaderboards.
type RunHandler struct {
	runs   RunService
	ledger EntitlementReader
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(runs RunService, ledger EntitlementReader) *RunHandler {
	return &RunHandler{runs: runs, ledger: ledger}
}

type startRunRequest struct {
	EventID   string     `json:"eventId"`
	Address   string     `json:"address"`
	Seed      string     `json:"seed"`
	StartedAt *time.Time `json:"startedAt"`
}

type finishRunRequest struct {
	EventID      string    `json:"eventId"`
	Address      string    `json:"address"`
	Seed         string    `json:"seed"`
	InputLog     []int64   `json:"inputLog"`
	StartToken   string    `json:"startToken"`
	StartedAt    time.Time `json:"startedAt"`
	ClaimedScore float64   `json:"claimedScore"`
}

// StartRun handles POST /api/runs/start.
func (h *RunHandler) StartRun(c *fiber.Ctx) error {
	var req startRunRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	s, err := callerAddress(c, req.Address)
	if err != nil {
		return respondError(c, err)
	}

	var startedAt time.Time
	if req.StartedAt != nil {
		startedAt = *req.StartedAt
	}
	res, err := h.runs.StartRun(c.UserContext(), req.EventID, s.Address, req.Seed, startedAt)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// FinishRun handles POST /api/runs/finish.
func (h *RunHandler) FinishRun(c *fiber.Ctx) error {
	var req finishRunRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	s, err := callerAddress(c, req.Address)
	if err != nil {
		return respondError(c, err)
	}

	res, err := h.runs.FinishRun(c.UserContext(), service.FinishRunInput{
		EventID:      req.EventID,
		Address:      s.Address,
		Seed:         req.Seed,
		InputLog:     req.InputLog,
		StartToken:   req.StartToken,
		StartedAt:    req.StartedAt,
		ClaimedScore: req.ClaimedScore,
		Tier:         s.Tier,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// Entitlement handles GET /api/events/:id/entitlement.
func (h *RunHandler) Entitlement(c *fiber.Ctx) error {
	s, err := SessionFrom(c)
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.ledger.GetEntitlement(c.UserContext(), s.Address, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// Leaderboard handles GET /api/events/:id/leaderboard.
func (h *RunHandler) Leaderboard(c *fiber.Ctx) error {
	entries, err := h.runs.Leaderboard(c.UserContext(), c.Params("id"), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"eventId": c.Params("id"), "entries": entries})
}
