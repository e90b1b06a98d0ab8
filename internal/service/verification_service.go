package service

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/andressep95/geo-verification/internal/config"
	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
	"github.com/andressep95/geo-verification/pkg/validator"
	"github.com/google/uuid"
)

type StartVerificationRequest struct {
	UserID      string `json:"user_id" validate:"required,max=64,identity"`
	CallbackURL string `json:"callback_url" validate:"omitempty,max=2048,httpurl"`
}

type StartVerificationResponse struct {
	SessionID        uuid.UUID `json:"session_id"`
	VerificationCode string    `json:"verification_code"`
	ExpiresAt        string    `json:"expires_at"`
	Message          string    `json:"message"`
}

type VerificationService struct {
	sessions     repository.SessionRepository
	friends      repository.FriendCache
	limiter      *RateLimiter
	platform     PlatformClient
	webhooks     WebhookDispatcher
	scheduler    Scheduler
	cfg          *config.Config
	clock        repository.Clock
	allowedHosts map[string]bool
	allowAnyHost bool
}

func NewVerificationService(
	sessions repository.SessionRepository,
	friends repository.FriendCache,
	limiter *RateLimiter,
	platform PlatformClient,
	webhooks WebhookDispatcher,
	scheduler Scheduler,
	cfg *config.Config,
	clock repository.Clock,
) *VerificationService {
	s := &VerificationService{
		sessions:     sessions,
		friends:      friends,
		limiter:      limiter,
		platform:     platform,
		webhooks:     webhooks,
		scheduler:    scheduler,
		cfg:          cfg,
		clock:        clock,
		allowedHosts: make(map[string]bool),
	}
	for _, host := range cfg.Verification.AllowedCallbackHosts {
		if host == "*" {
			s.allowAnyHost = true
			continue
		}
		s.allowedHosts[strings.ToLower(host)] = true
	}
	return s
}

// StartVerification opens a session for identity, replacing any active one.
// The returned session carries the code the user must send to the bot.
func (s *VerificationService) StartVerification(ctx context.Context, identity, callbackURL string) (*domain.Session, error) {
	identity = strings.TrimSpace(identity)
	callbackURL = strings.TrimSpace(callbackURL)

	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	if callbackURL != "" {
		if err := s.validateCallbackURL(callbackURL); err != nil {
			return nil, err
		}
	}

	result, err := s.limiter.Check(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !result.Allowed {
		log.Printf("[VERIFICATION] Rate limit exceeded for %s until %s", identity, result.ResetAt.Format("15:04:05"))
		return nil, &domain.RateLimitError{Identity: identity, ResetAt: result.ResetAt}
	}

	unlock := s.scheduler.LockIdentity(identity)
	defer unlock()

	session, superseded, err := s.sessions.Create(ctx, identity, callbackURL, s.cfg.Verification.CodeExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if superseded != nil {
		log.Printf("[VERIFICATION] Session %s for %s superseded by %s", superseded.ID, identity, session.ID)
		if !superseded.Verified && superseded.HasCallback() {
			s.webhooks.Dispatch(superseded.CallbackURL,
				domain.NewCallbackPayload(superseded.ID, superseded.Identity, domain.OutcomeExpired, s.clock.Now()))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Platform.CallTimeout)
	isFriend, err := s.platform.IsFriend(callCtx, identity)
	cancel()
	if err != nil {
		if _, delErr := s.sessions.Delete(ctx, session.ID); delErr != nil {
			log.Printf("[VERIFICATION] Failed to roll back session %s: %v", session.ID, delErr)
		}
		log.Printf("[VERIFICATION] Friend check for %s failed: %v", identity, err)
		return nil, fmt.Errorf("%w: friend check failed: %v", domain.ErrUpstream, err)
	}

	if err := s.friends.Set(ctx, identity, isFriend); err != nil {
		log.Printf("[VERIFICATION] Failed to cache friend status for %s: %v", identity, err)
	}

	if isFriend {
		log.Printf("[VERIFICATION] %s is already a friend, waiting for code in chat", identity)
	} else {
		log.Printf("[VERIFICATION] %s is not a friend yet, waiting for friend request", identity)
	}

	s.scheduler.Wake()

	return session, nil
}

// GetStatus returns the public view of a session.
func (s *VerificationService) GetStatus(ctx context.Context, id uuid.UUID) (*domain.SessionStatus, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.Status(), nil
}

// Ping checks that session storage is reachable.
func (s *VerificationService) Ping(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// NewStartVerificationResponse renders a freshly created session for the caller.
func NewStartVerificationResponse(session *domain.Session) *StartVerificationResponse {
	return &StartVerificationResponse{
		SessionID:        session.ID,
		VerificationCode: session.Code,
		ExpiresAt:        session.ExpiresAt.UTC().Format(time.RFC3339),
		Message:          fmt.Sprintf("Send a friend request to the verification bot, then send it the code %s in a private message", session.Code),
	}
}

func validateIdentity(identity string) error {
	if identity == "" {
		return &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}
	if len(identity) > validator.MaxIdentityLength {
		return &domain.ValidationError{Field: "user_id", Reason: fmt.Sprintf("must be at most %d characters", validator.MaxIdentityLength)}
	}
	if !validator.IsIdentity(identity) {
		return &domain.ValidationError{Field: "user_id", Reason: "contains invalid characters"}
	}
	return nil
}

func (s *VerificationService) validateCallbackURL(raw string) error {
	if !validator.IsHTTPURL(raw) {
		return &domain.ValidationError{Field: "callback_url", Reason: "must be an absolute http or https URL"}
	}
	if s.allowAnyHost {
		return nil
	}

	u, _ := url.Parse(raw)
	if !s.allowedHosts[strings.ToLower(u.Hostname())] {
		return &domain.ValidationError{Field: "callback_url", Reason: fmt.Sprintf("host %q is not allowed", u.Hostname())}
	}
	return nil
}
