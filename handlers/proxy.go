// Package handlers holds the fiber handlers for the proxy's endpoints.
package handlers

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/andesco/cloak/pkg/cloak"
)

// ProxySite serves ANY /proxy?u=<target>: fetch the target, rewrite HTML so
// every follow-on request comes back here, pass everything else through.
func ProxySite(cl *cloak.Cloak, logger *slog.Logger) fiber.Handler {
	logger = logger.With("component", "proxy_handler")

	return func(c *fiber.Ctx) error {
		tr, err := targetRequest(c)
		if err != nil {
			return sendError(c, logger, err)
		}

		resp, err := cl.ProcessRequest(c.UserContext(), tr)
		if err != nil {
			return sendError(c, logger, err)
		}
		return sendResponse(c, resp)
	}
}

// RawSite serves ANY /raw?u=<target>: the same fetch as ProxySite without
// rewriting the body.
func RawSite(cl *cloak.Cloak, logger *slog.Logger) fiber.Handler {
	logger = logger.With("component", "raw_handler")

	return func(c *fiber.Ctx) error {
		tr, err := targetRequest(c)
		if err != nil {
			return sendError(c, logger, err)
		}

		resp, err := cl.ProcessRaw(c.UserContext(), tr)
		if err != nil {
			return sendError(c, logger, err)
		}
		return sendResponse(c, resp)
	}
}

// targetRequest builds a TargetRequest from the inbound request. fasthttp
// reuses its buffers once the handler returns, so everything is copied.
func targetRequest(c *fiber.Ctx) (*cloak.TargetRequest, error) {
	rawURL := strings.Clone(c.Query(cloak.TargetParam))
	method := strings.Clone(c.Method())

	header := make(http.Header)
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})

	var body []byte
	if b := c.Body(); len(b) > 0 {
		body = bytes.Clone(b)
	}

	return cloak.NewTargetRequest(method, rawURL, header, body)
}

func sendResponse(c *fiber.Ctx, resp *cloak.Response) error {
	for key, values := range resp.Header {
		// fasthttp derives Content-Length from the body it writes.
		if key == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
	return c.Status(resp.StatusCode).Send(resp.Body)
}

// sendError converts an error into the response for the single request
// boundary.
func sendError(c *fiber.Ctx, logger *slog.Logger, err error) error {
	var verr *cloak.ValidationError
	var ferr *cloak.FetchError

	switch {
	case errors.As(err, &verr):
		logger.Debug("rejected request", "status", verr.Status, "reason", verr.Reason)
		return c.Status(verr.Status).SendString(verr.Reason)
	case errors.As(err, &ferr):
		logger.Warn("upstream fetch failed", "url", ferr.URL, "error", ferr.Err)
		return c.Status(fiber.StatusBadGateway).SendString(ferr.Error())
	default:
		logger.Error("proxy error", "error", err)
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}
}
