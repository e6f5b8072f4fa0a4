package middleware

import (
	"crypto/subtle"

	"github.com/arknas/backend/internal/config"
	"github.com/gofiber/fiber/v2"
)

// AdminAuth checks the admin token and records the caller as the task
// actor. With no key configured every request is let through.
func AdminAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := cfg.Auth.AdminActor
		if actor == "" {
			actor = "admin"
		}

		apiKey := cfg.Auth.AdminAPIKey
		if apiKey == "" {
			c.Locals("actor", actor)
			return c.Next()
		}

		headerToken := c.Get("X-Admin-Token")
		if headerToken == "" {
			auth := c.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				headerToken = auth[len(prefix):]
			}
		}
		if headerToken == "" {
			headerToken = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(headerToken), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		c.Locals("actor", actor)
		return c.Next()
	}
}
