package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal status reported to a callback URL.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeExpired  Outcome = "expired"
)

// CallbackPayload is the JSON body POSTed to a session's callback URL.
type CallbackPayload struct {
	SessionID string  `json:"session_id"`
	UserID    string  `json:"user_id"`
	Status    Outcome `json:"status"`
	Timestamp string  `json:"timestamp"`
}

// NewCallbackPayload builds the webhook body for a session outcome.
func NewCallbackPayload(sessionID uuid.UUID, identity string, status Outcome, at time.Time) CallbackPayload {
	return CallbackPayload{
		SessionID: sessionID.String(),
		UserID:    identity,
		Status:    status,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}
