package handlers

import (
	"math/rand/v2"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"

	"github.com/andesco/cloak/pkg/cloak"
)

// Ruleset serves GET /ruleset: the active rules as YAML, unless exposing
// them is disabled.
func Ruleset(cl *cloak.Cloak, expose bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !expose {
			return c.Status(fiber.StatusForbidden).SendString("Ruleset Disabled")
		}

		body, err := yaml.Marshal(cl.Rules())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
		}

		c.Set(fiber.HeaderContentType, "application/x-yaml")
		return c.Send(body)
	}
}

// TestSite serves GET /test: a redirect to a random sample URL from the
// active rules, opened through the proxy.
func TestSite(cl *cloak.Cloak) fiber.Handler {
	return func(c *fiber.Ctx) error {
		urls := cl.Rules().TestURLs()
		if len(urls) == 0 {
			return c.Status(fiber.StatusNotFound).SendString("No test URLs available")
		}
		return c.Redirect(cloak.Encode(urls[rand.IntN(len(urls))]), fiber.StatusFound)
	}
}
