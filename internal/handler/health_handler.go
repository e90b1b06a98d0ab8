package handler

import (
	"context"
	"time"

	"github.com/andressep95/geo-verification/internal/service"
	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	verificationService *service.VerificationService
	reconciler          *service.Reconciler
}

func NewHealthHandler(verificationService *service.VerificationService, reconciler *service.Reconciler) *HealthHandler {
	return &HealthHandler{
		verificationService: verificationService,
		reconciler:          reconciler,
	}
}

// Health returns basic health status
// GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":  "ok",
		"service": "geo-verification",
	})
}

// Ready checks session storage and reports the last reconciliation pass
// GET /ready
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.verificationService.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": fiber.Map{
				"storage": err.Error(),
			},
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "ready",
		"checks": fiber.Map{
			"storage": "ok",
		},
		"last_tick": h.reconciler.LastReport(),
	})
}
