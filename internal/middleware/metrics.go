package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/andesco/cloak/internal/metrics"
)

// Metrics returns a fiber middleware that records Prometheus metrics for
// each inbound request.
func Metrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()

		err := c.Next()

		status := strconv.Itoa(statusOf(c, err))
		method := metrics.NormalizeMethod(c.Method())
		route := metrics.NormalizeRoute(c.Route().Path)
		duration := time.Since(start).Seconds()

		m.RequestsTotal.WithLabelValues(method, status, route).Inc()
		m.RequestDuration.WithLabelValues(method, status, route).Observe(duration)

		return err
	}
}
