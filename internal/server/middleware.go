package server

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"reflex-arena/internal/config"
	"reflex-arena/internal/handler"
)

// SessionMiddleware resolves the caller and attaches the session. With
// required unset, requests without a session pass through anonymously.
func SessionMiddleware(provider handler.SessionProvider, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := provider.Session(c)
		if err != nil {
			if required {
				return err
			}
			return c.Next()
		}
		handler.SetSession(c, s)
		return c.Next()
	}
}

// AdminMiddleware rejects requests without a configured X-Admin-Key.
func AdminMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.IsAdminKey(c.Get("X-Admin-Key")) {
			log.Warn().
				Str("ip", c.IP()).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Msg("Non-admin attempted admin route")
			return handler.ErrNotAdmin
		}
		return c.Next()
	}
}

// LoggingMiddleware logs every request after it was served.
func LoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = handler.StatusOf(err)
		}

		logEvent := log.Debug()
		if status >= fiber.StatusInternalServerError {
			logEvent = log.Warn()
		}
		if s, serr := handler.SessionFrom(c); serr == nil {
			logEvent = logEvent.Str("address", s.Address)
		}
		logEvent.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("Request served")

		return err
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Path()).
					Msg("Recovered from panic in handler")
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return c.Next()
	}
}
