// Package middleware provides fiber middleware for logging, metrics and rate
// limiting.
package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestLogger returns a fiber middleware that logs each request with slog.
func RequestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		logger.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", statusOf(c, err),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
			"remote_ip", c.IP(),
			"bytes_out", len(c.Response().Body()),
		)

		return err
	}
}

// statusOf resolves the status the client will see. A returned *fiber.Error
// has not been written yet; the app's error handler does that after the
// middleware chain unwinds.
func statusOf(c *fiber.Ctx, err error) int {
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fe.Code
		}
		return fiber.StatusInternalServerError
	}
	return c.Response().StatusCode()
}
