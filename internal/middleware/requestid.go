package middleware

import (
	"regexp"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the correlation ID in both directions: clients
	// may supply one, and every response echoes the effective ID back.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the Locals key the effective ID is stored under.
	RequestIDKey = "request_id"
)

// Client-supplied IDs pass through only when they look like tracing tokens;
// anything else is replaced so log lines stay grep-safe.
var requestIDPattern = regexp.MustCompile(`^[0-9a-zA-Z-]{1,64}$`)

// RequestID returns middleware that tags each request with a correlation ID,
// reusing a well-formed client-supplied one or minting a UUID otherwise. The
// ID ends up in Locals, the response header, and the request's log lines.
func RequestID() fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if !requestIDPattern.MatchString(id) {
			id = uuid.New().String()
		}

		c.Locals(RequestIDKey, id)
		c.Set(RequestIDHeader, id)

		return c.Next()
	}
}

// GetRequestID returns the request's correlation ID, or "" when the
// middleware did not run.
func GetRequestID(c fiber.Ctx) string {
	if id, ok := c.Locals(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
