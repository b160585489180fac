package middleware

import (
	"github.com/gofiber/fiber/v3"
)

// gatewayCSP locks the surface down completely: the gateway serves JSON to
// machine clients, nothing here is ever rendered in a browser.
const gatewayCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders returns middleware that sets hardening headers on every
// response. Payment challenges and receipts must never be served from a
// shared cache, so caching is disabled across the board.
func SecurityHeaders() fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Set("Content-Security-Policy", gatewayCSP)

		// Responses are JSON; never let a client second-guess that.
		c.Set("X-Content-Type-Options", "nosniff")

		c.Set("X-Frame-Options", "DENY")

		// Resource URLs inside 402 challenges carry provider hints; keep
		// them out of Referer headers entirely.
		c.Set("Referrer-Policy", "no-referrer")

		c.Set("Cache-Control", "no-store")

		return c.Next()
	}
}
