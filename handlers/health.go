package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/andesco/cloak/pkg/cloak"
)

// Healthz returns a simple OK response for liveness probes.
func Healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Status reports the build version and the size of the active ruleset.
func Status(cl *cloak.Cloak) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rules := cl.Rules()
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": Version,
			"rules":   rules.Count(),
			"domains": rules.DomainCount(),
		})
	}
}
