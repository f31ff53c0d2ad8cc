package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andesco/cloak/internal/metrics"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	app := fiber.New()
	app.Use(RequestLogger(logger))
	app.Get("/proxy", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusTeapot).SendString("short and stout")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/proxy?u=x", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request", entry["msg"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/proxy", entry["path"])
	assert.Equal(t, float64(fiber.StatusTeapot), entry["status"])
	assert.Equal(t, float64(len("short and stout")), entry["bytes_out"])
}

func TestRequestLogger_ErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	app := fiber.New()
	app.Use(RequestLogger(logger))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(fiber.StatusNotFound), entry["status"])
}

func TestMetrics(t *testing.T) {
	m := metrics.New()

	app := fiber.New()
	app.Use(Metrics(m))
	app.All("/proxy", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusBadGateway)
	})

	for range 2 {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/proxy", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	}
	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "502", "/proxy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "404", "other")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RequestsInFlight))
}

func TestRateLimiter(t *testing.T) {
	app := fiber.New()
	app.Use(RateLimiter(NewRateLimiterStore(1, 1)))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	got429 := false
	for range 10 {
		resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
		require.NoError(t, err)
		if resp.StatusCode == fiber.StatusTooManyRequests {
			got429 = true
			assert.Equal(t, "1", resp.Header.Get(fiber.HeaderRetryAfter))
			break
		}
	}
	assert.True(t, got429, "expected a 429 after the burst")
}

func TestRateLimiterStore_PerClient(t *testing.T) {
	s := NewRateLimiterStore(1, 2)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	assert.True(t, s.Allow("a"))
	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("a"))
	assert.True(t, s.Allow("b"), "clients do not share a bucket")

	now = now.Add(time.Second)
	assert.True(t, s.Allow("a"), "bucket refills")
}

func TestRateLimiterStore_ExpiresIdleClients(t *testing.T) {
	s := NewRateLimiterStore(1, 1)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	s.lastCleanup = now

	s.Allow("a")
	s.Allow("b")
	require.Equal(t, 2, s.Len())

	now = now.Add(DefaultLimiterExpiry + time.Second)
	s.Allow("c")
	assert.Equal(t, 1, s.Len())
}
