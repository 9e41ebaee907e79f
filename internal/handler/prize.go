package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"reflex-arena/internal/model"
	"reflex-arena/internal/service"
)

// PrizeReader serves committed payouts.
type PrizeReader interface {
	GetClaimProof(ctx context.Context, eventID, address string) (*service.ClaimProof, error)
	Champion(ctx context.Context, eventID string) (*model.Champion, error)
}

// PrizeHandler serves claim proofs and champions of finalized events.
type PrizeHandler struct {
	prizes PrizeReader
}

// NewPrizeHandler creates a PrizeHandler.
func NewPrizeHandler(prizes PrizeReader) *PrizeHandler {
	return &PrizeHandler{prizes: prizes}
}

// Claim handles GET /api/events/:id/claim. Proofs are public once
// committed, so ?address= may name any payer; the session address is the
// default.
func (h *PrizeHandler) Claim(c *fiber.Ctx) error {
	address := strings.TrimSpace(c.Query("address"))
	if address == "" {
		s, err := SessionFrom(c)
		if err != nil {
			return respondError(c, err)
		}
		address = s.Address
	}

	proof, err := h.prizes.GetClaimProof(c.UserContext(), c.Params("id"), address)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(proof)
}

// Champion handles GET /api/events/:id/champion.
func (h *PrizeHandler) Champion(c *fiber.Ctx) error {
	champ, err := h.prizes.Champion(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"eventId":   champ.EventID,
		"address":   champ.Address,
		"score":     champ.Score,
		"crownedAt": champ.CreatedAt,
	})
}
