package middleware

import (
	"strings"

	"github.com/andressep95/geo-verification/pkg/jwt"
	"github.com/gofiber/fiber/v2"
)

// ClientAuthMiddleware requires a bearer token signed with the API secret.
func ClientAuthMiddleware(tokenService *jwt.TokenService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "missing authorization header",
			})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid authorization header format",
			})
		}

		claims, err := tokenService.ValidateToken(parts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid token",
			})
		}

		c.Locals("client_id", claims.ClientID)

		return c.Next()
	}
}
