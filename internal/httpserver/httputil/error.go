package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// WriteError standardizes JSON error responses.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// WriteCategorizedError writes an error response carrying a machine-stable
// category token alongside the human-readable detail.
func WriteCategorizedError(c *fiber.Ctx, status int, category, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return c.Status(status).JSON(fiber.Map{
		"error":    msg,
		"category": category,
	})
}
