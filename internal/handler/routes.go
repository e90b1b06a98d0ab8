package handler

import (
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes registers all endpoints. apiMiddleware guards /api/v1 and may be empty.
func SetupRoutes(
	app *fiber.App,
	verificationHandler *VerificationHandler,
	healthHandler *HealthHandler,
	apiMiddleware ...fiber.Handler,
) {
	// Health checks (public)
	app.Get("/health", healthHandler.Health)
	app.Get("/ready", healthHandler.Ready)

	// API v1
	api := app.Group("/api/v1", apiMiddleware...)

	verify := api.Group("/verify")
	verify.Post("/start", verificationHandler.Start)
	verify.Get("/status/:session_id", verificationHandler.Status)
}
