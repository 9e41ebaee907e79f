package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"reflex-arena/internal/model"
	"reflex-arena/internal/service"
)

// EventService is the event schedule surface the handlers need.
type EventService interface {
	CreateEvent(ctx context.Context, id string, startsAt, endsAt time.Time, prizePool string) (*model.Event, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	UpdateEvent(ctx context.Context, id string, upd service.EventUpdate) (*model.Event, error)
}

// Finalizer freezes events and commits their payouts.
type Finalizer interface {
	Finalize(ctx context.Context, eventID string) (*model.EventWinners, error)
}

// AdminHandler serves the admin routes. Callers are authenticated by the
// admin middleware.
type AdminHandler struct {
	events EventService
	prizes Finalizer
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(events EventService, prizes Finalizer) *AdminHandler {
	return &AdminHandler{events: events, prizes: prizes}
}

type eventView struct {
	ID           string          `json:"id"`
	StartsAt     time.Time       `json:"startsAt"`
	EndsAt       time.Time       `json:"endsAt"`
	Frozen       bool            `json:"frozen"`
	FrozenAt     *time.Time      `json:"frozenAt,omitempty"`
	PrizePoolWLD decimal.Decimal `json:"prizePoolWld"`
}

func viewEvent(e *model.Event) eventView {
	return eventView{
		ID:           e.ID,
		StartsAt:     e.StartsAt,
		EndsAt:       e.EndsAt,
		Frozen:       e.Frozen,
		FrozenAt:     e.FrozenAt,
		PrizePoolWLD: e.PrizePoolWLD,
	}
}

type createEventRequest struct {
	ID           string    `json:"id"`
	StartsAt     time.Time `json:"startsAt"`
	EndsAt       time.Time `json:"endsAt"`
	PrizePoolWLD string    `json:"prizePoolWld"`
}

type updateEventRequest struct {
	StartsAt     *time.Time `json:"startsAt"`
	EndsAt       *time.Time `json:"endsAt"`
	PrizePoolWLD *string    `json:"prizePoolWld"`
}

// CreateEvent handles POST /admin/events.
func (h *AdminHandler) CreateEvent(c *fiber.Ctx) error {
	var req createEventRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	event, err := h.events.CreateEvent(c.UserContext(), req.ID, req.StartsAt, req.EndsAt, req.PrizePoolWLD)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(viewEvent(event))
}

// UpdateEvent handles PATCH /admin/events/:id.
func (h *AdminHandler) UpdateEvent(c *fiber.Ctx) error {
	var req updateEventRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	event, err := h.events.UpdateEvent(c.UserContext(), c.Params("id"), service.EventUpdate{
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		PrizePoolWLD: req.PrizePoolWLD,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(viewEvent(event))
}

// Finalize handles POST /admin/events/:id/finalize.
func (h *AdminHandler) Finalize(c *fiber.Ctx) error {
	eventID := c.Params("id")
	winners, err := h.prizes.Finalize(c.UserContext(), eventID)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().
		Str("event_id", eventID).
		Str("admin", adminLabel(c)).
		Msg("Admin finalized event")

	return c.JSON(winners)
}

// GetEvent handles GET /api/events/:id.
func (h *AdminHandler) GetEvent(c *fiber.Ctx) error {
	event, err := h.events.GetEvent(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(viewEvent(event))
}

// adminLabel identifies the admin key in logs without revealing it.
func adminLabel(c *fiber.Ctx) string {
	key := c.Get("X-Admin-Key")
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
