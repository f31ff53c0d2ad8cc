package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/andesco/cloak/pkg/cloak"
)

// RouteOptions selects the optional endpoints.
type RouteOptions struct {
	ExposeRuleset bool
}

// RegisterRoutes wires all route handlers onto the fiber app. /metrics and
// the static front-end are mounted by the caller.
func RegisterRoutes(app *fiber.App, cl *cloak.Cloak, logger *slog.Logger, opts RouteOptions) {
	app.Get("/healthz", Healthz)
	app.Get("/status", Status(cl))

	app.All(cloak.ProxyPath, ProxySite(cl, logger))
	app.All("/raw", RawSite(cl, logger))
	app.Get("/api", API(cl, logger))

	app.Get("/ruleset", Ruleset(cl, opts.ExposeRuleset))
	app.Get("/test", TestSite(cl))
}
