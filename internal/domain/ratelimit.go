package domain

import "time"

// RateLimitState is the token bucket kept per identity.
type RateLimitState struct {
	Tokens     int       `json:"tokens" db:"tokens"`
	LastRefill time.Time `json:"last_refill" db:"last_refill"`
}

// RateLimitResult is the outcome of one bucket check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// NewRateLimitState returns a full bucket anchored at now.
func NewRateLimitState(maxTokens int, now time.Time) RateLimitState {
	return RateLimitState{Tokens: maxTokens, LastRefill: now}
}

// Refill applies whole-window refills. Tokens jump by maxTokens per elapsed
// window and the anchor moves to now, so a burst right before a boundary and
// another right after it are both allowed.
func (s *RateLimitState) Refill(now time.Time, maxTokens int, window time.Duration) {
	if window <= 0 {
		return
	}
	elapsed := now.Sub(s.LastRefill)
	if elapsed < window {
		return
	}
	windows := int(elapsed / window)
	tokens := s.Tokens + windows*maxTokens
	if tokens > maxTokens || tokens < 0 {
		tokens = maxTokens
	}
	s.Tokens = tokens
	s.LastRefill = now
}

// Take refills the bucket and consumes one token when available.
func (s *RateLimitState) Take(now time.Time, maxTokens int, window time.Duration) RateLimitResult {
	s.Refill(now, maxTokens, window)
	if s.Tokens <= 0 {
		return RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   s.LastRefill.Add(window),
		}
	}
	s.Tokens--
	return RateLimitResult{
		Allowed:   true,
		Remaining: s.Tokens,
		ResetAt:   s.LastRefill.Add(window),
	}
}
