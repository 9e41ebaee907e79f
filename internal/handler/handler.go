// Package handler provides the HTTP handlers of the competition API.
package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"reflex-arena/internal/apperr"
	"reflex-arena/internal/model"
)

const sessionKey = "session"

// Session errors.
var (
	ErrNoSession       = apperr.New(apperr.KindAuthorization, "no_session", "wallet session required")
	ErrAddressMismatch = apperr.New(apperr.KindAuthorization, "address_mismatch", "address does not match the session")
	ErrNotAdmin        = apperr.New(apperr.KindAuthorization, "not_admin", "admin key required")
	ErrBadBody         = apperr.Validation("invalid_body", "request body is not valid JSON")
)

// Session is the authenticated caller of a request.
type Session struct {
	Address string
	Tier    model.VerificationLevel
}

// SessionProvider resolves the caller of a request.
type SessionProvider interface {
	Session(c *fiber.Ctx) (*Session, error)
}

// HeaderSessionProvider trusts the identity headers set by the upstream auth
// gateway.
type HeaderSessionProvider struct{}

// Session implements SessionProvider.
func (HeaderSessionProvider) Session(c *fiber.Ctx) (*Session, error) {
	address := strings.ToLower(strings.TrimSpace(c.Get("X-Wallet-Address")))
	if address == "" {
		return nil, ErrNoSession
	}
	return &Session{
		Address: address,
		Tier:    model.ParseVerificationLevel(strings.ToLower(c.Get("X-Verification-Level"))),
	}, nil
}

// SetSession attaches s to the request.
func SetSession(c *fiber.Ctx, s *Session) {
	c.Locals(sessionKey, s)
}

// SessionFrom returns the session attached by the session middleware.
func SessionFrom(c *fiber.Ctx) (*Session, error) {
	s, ok := c.Locals(sessionKey).(*Session)
	if !ok || s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// callerAddress returns the session address, rejecting a body address that
// names someone else.
func callerAddress(c *fiber.Ctx, claimed string) (*Session, error) {
	s, err := SessionFrom(c)
	if err != nil {
		return nil, err
	}
	if claimed != "" && !strings.EqualFold(claimed, s.Address) {
		return nil, ErrAddressMismatch
	}
	return s, nil
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	appErr := apperr.From(err)
	switch appErr.Kind {
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindAuthorization:
		if appErr == ErrNoSession {
			return fiber.StatusUnauthorized
		}
		return fiber.StatusForbidden
	case apperr.KindEntitlement:
		return fiber.StatusPaymentRequired
	case apperr.KindIntegrity:
		return fiber.StatusUnprocessableEntity
	case apperr.KindSettlement:
		return fiber.StatusConflict
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. System errors are logged
// and reported generically.
func respondError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fiber.Map{"code": "http_error", "message": fe.Message}})
	}

	appErr := apperr.From(err)
	status := StatusOf(err)
	if appErr.Kind == apperr.KindSystem {
		log.Error().Err(err).Str("path", c.Path()).Str("method", c.Method()).Msg("Request failed")
	}
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{"code": appErr.Code, "message": appErr.Message},
	})
}

// ErrorHandler is the fiber error handler of the API.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return respondError(c, err)
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return ErrBadBody
	}
	return nil
}
