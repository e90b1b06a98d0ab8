package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is one verification attempt for an external account.
type Session struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Identity    string    `json:"user_id" db:"identity"`
	Code        string    `json:"-" db:"code"`
	Verified    bool      `json:"verified" db:"verified"`
	CallbackURL string    `json:"-" db:"callback_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
}

// IsExpired reports whether the session deadline has passed at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsActive reports whether the session is still inside its TTL.
func (s *Session) IsActive(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// HasCallback reports whether a webhook is owed for this session.
func (s *Session) HasCallback() bool {
	return s.CallbackURL != ""
}

// Clone returns a value copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// SessionStatus is the public view of a session; it never carries the code.
type SessionStatus struct {
	ID        uuid.UUID `json:"session_id"`
	Identity  string    `json:"user_id"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Status projects the session into its public view.
func (s *Session) Status() *SessionStatus {
	return &SessionStatus{
		ID:        s.ID,
		Identity:  s.Identity,
		Verified:  s.Verified,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}
