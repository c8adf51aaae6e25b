package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const sandboxPINHeader = "X-Sandbox-Pin"

// SandboxPIN gates mutating wallet routes when the service runs in sandbox
// mode. The configured PIN is hashed once at startup so the plain value never
// sits in handler state.
func SandboxPIN(enabled bool, pin string) fiber.Handler {
	if !enabled || pin == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		// bcrypt only fails on oversized input; refuse everything rather than
		// run an unguarded sandbox.
		return func(c *fiber.Ctx) error {
			return fiber.NewError(http.StatusInternalServerError, "sandbox pin misconfigured")
		}
	}

	return func(c *fiber.Ctx) error {
		supplied := c.Get(sandboxPINHeader)
		if supplied == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing sandbox pin")
		}
		if bcrypt.CompareHashAndPassword(hash, []byte(supplied)) != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid sandbox pin")
		}
		return c.Next()
	}
}
