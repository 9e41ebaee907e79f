package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"reflex-arena/internal/model"
	"reflex-arena/internal/service"
)

// PaymentService is the payment surface the handlers need.
type PaymentService interface {
	CreateIntent(ctx context.Context, address, eventID string, tier model.VerificationLevel) (*service.Intent, error)
	ConfirmVerified(ctx context.Context, address, intentID, txHash string) (*service.ConfirmResult, error)
	ConfirmTrusted(ctx context.Context, address, eventID, txHash string) (*service.ConfirmResult, error)
}

// PaymentHandler serves payment intents and confirmations.
type PaymentHandler struct {
	payments PaymentService
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type createIntentRequest struct {
	EventID string `json:"eventId"`
	Address string `json:"address"`
}

type confirmRequest struct {
	IntentID string `json:"intentId"`
	TxHash   string `json:"txHash"`
	Address  string `json:"address"`
}

type confirmTrustedRequest struct {
	EventID string `json:"eventId"`
	TxHash  string `json:"txHash"`
	Address string `json:"address"`
}

// CreateIntent handles POST /api/payments/intents.
func (h *PaymentHandler) CreateIntent(c *fiber.Ctx) error {
	var req createIntentRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	s, err := callerAddress(c, req.Address)
	if err != nil {
		return respondError(c, err)
	}

	intent, err := h.payments.CreateIntent(c.UserContext(), s.Address, req.EventID, s.Tier)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(intent)
}

// Confirm handles POST /api/payments/confirm.
func (h *PaymentHandler) Confirm(c *fiber.Ctx) error {
	var req confirmRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	s, err := callerAddress(c, req.Address)
	if err != nil {
		return respondError(c, err)
	}

	res, err := h.payments.ConfirmVerified(c.UserContext(), s.Address, req.IntentID, req.TxHash)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// ConfirmTrusted handles POST /api/payments/confirm-trusted.
func (h *PaymentHandler) ConfirmTrusted(c *fiber.Ctx) error {
	var req confirmTrustedRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	s, err := callerAddress(c, req.Address)
	if err != nil {
		return respondError(c, err)
	}

	res, err := h.payments.ConfirmTrusted(c.UserContext(), s.Address, req.EventID, req.TxHash)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}
