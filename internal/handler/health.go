package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const healthTimeout = 2 * time.Second

// HealthChecker pings a dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Health handles GET /healthz.
func Health(db HealthChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	}
}
