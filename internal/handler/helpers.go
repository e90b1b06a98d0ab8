package handler

import (
	"errors"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/gofiber/fiber/v2"
)

// writeError maps service errors to HTTP responses.
func writeError(c *fiber.Ctx, err error) error {
	var rlErr *domain.RateLimitError
	if errors.As(err, &rlErr) {
		retryAfter := int(math.Ceil(time.Until(rlErr.ResetAt).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":    "rate_limit_exceeded",
			"message":  err.Error(),
			"reset_at": rlErr.ResetAt.UTC().Format(time.RFC3339),
		})
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, domain.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "session_not_found",
			"message": err.Error(),
		})
	case errors.Is(err, domain.ErrUpstream):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "upstream_error",
			"message": "Could not reach GeoGuessr, please try again later",
		})
	}

	log.Printf("[HANDLER] Unexpected error on %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_error",
		"message": "Internal server error",
	})
}

// ErrorHandler handles errors returned by fiber itself, such as unknown routes.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	log.Printf("Error handling request [%s %s]: %v", c.Method(), c.Path(), err)

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
