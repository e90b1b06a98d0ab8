package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrUpstream        = errors.New("upstream platform error")
	ErrSessionNotFound = errors.New("session not found or expired")
)

// RateLimitError carries the time at which the identity may retry.
type RateLimitError struct {
	Identity string
	ResetAt  time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for user %s", e.Identity)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ValidationError reports which request field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
