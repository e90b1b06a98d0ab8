package middleware

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
)

// LoggerMiddleware logs each request once it completes. Health checks are skipped.
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		path := c.Path()
		if path == "/health" || path == "/ready" {
			return err
		}

		log.Printf("[HTTP] %s %s - %d in %v (%s)",
			c.Method(),
			path,
			c.Response().StatusCode(),
			time.Since(start),
			c.IP(),
		)

		return err
	}
}
