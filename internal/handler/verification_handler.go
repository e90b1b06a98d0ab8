package handler

import (
	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/service"
	"github.com/andressep95/geo-verification/pkg/validator"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type VerificationHandler struct {
	verificationService *service.VerificationService
	validator           *validator.Validator
}

func NewVerificationHandler(verificationService *service.VerificationService, validator *validator.Validator) *VerificationHandler {
	return &VerificationHandler{
		verificationService: verificationService,
		validator:           validator,
	}
}

// Start opens a verification session
// POST /api/v1/verify/start
func (h *VerificationHandler) Start(c *fiber.Ctx) error {
	var req service.StartVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
	}

	if err := h.validator.Validate(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	}

	session, err := h.verificationService.StartVerification(c.Context(), req.UserID, req.CallbackURL)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(service.NewStartVerificationResponse(session))
}

// Status reports whether a session has been verified
// GET /api/v1/verify/status/:session_id
func (h *VerificationHandler) Status(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("session_id"))
	if err != nil {
		return writeError(c, domain.ErrSessionNotFound)
	}

	status, err := h.verificationService.GetStatus(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(status)
}
