package handlers

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/andesco/cloak/pkg/cloak"
)

// Version is reported by /api and /healthz. It is set at build time.
var Version = "dev"

// APIResponse is the JSON body of /api.
type APIResponse struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	Status  int    `json:"status"`
	Body    string `json:"body"`
	Request struct {
		Headers []HeaderField `json:"headers"`
	} `json:"request"`
	Response struct {
		Headers []HeaderField `json:"headers"`
	} `json:"response"`
}

type HeaderField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// API serves GET /api?u=<target>: the rewritten document plus the headers
// exchanged with the target, as JSON.
func API(cl *cloak.Cloak, logger *slog.Logger) fiber.Handler {
	logger = logger.With("component", "api_handler")

	return func(c *fiber.Ctx) error {
		tr, err := targetRequest(c)
		if err != nil {
			return sendError(c, logger, err)
		}

		in, err := cl.Inspect(c.UserContext(), tr)
		if err != nil {
			return sendError(c, logger, err)
		}

		var resp APIResponse
		resp.Version = Version
		resp.URL = in.URL
		resp.Status = in.StatusCode
		resp.Body = in.Body
		resp.Request.Headers = headerFields(in.RequestHeader)
		resp.Response.Headers = headerFields(in.ResponseHeader)

		return c.JSON(resp)
	}
}

// headerFields flattens h in key order so the output is stable.
func headerFields(h http.Header) []HeaderField {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]HeaderField, 0, len(h))
	for _, k := range keys {
		for _, v := range h[k] {
			fields = append(fields, HeaderField{Key: k, Value: v})
		}
	}
	return fields
}
