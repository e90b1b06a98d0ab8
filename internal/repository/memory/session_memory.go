package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
	"github.com/google/uuid"
)

type sessionRepository struct {
	mu         sync.RWMutex
	sessions   map[uuid.UUID]*domain.Session
	byIdentity map[string]uuid.UUID
	codeLength int
	clock      repository.Clock
}

// NewSessionRepository creates an in-process session repository.
func NewSessionRepository(codeLength int, clock repository.Clock) repository.SessionRepository {
	return &sessionRepository{
		sessions:   make(map[uuid.UUID]*domain.Session),
		byIdentity: make(map[string]uuid.UUID),
		codeLength: codeLength,
		clock:      clock,
	}
}

func (r *sessionRepository) Create(ctx context.Context, identity, callbackURL string, ttl time.Duration) (*domain.Session, *domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	code, err := domain.GenerateCode(r.codeLength)
	if err != nil {
		return nil, nil, err
	}

	now := r.clock.Now()
	session := &domain.Session{
		ID:          uuid.New(),
		Identity:    identity,
		Code:        code,
		CallbackURL: callbackURL,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return nil, nil, fmt.Errorf("failed to create session: id collision")
	}

	var superseded *domain.Session
	if prevID, ok := r.byIdentity[identity]; ok {
		if prev, ok := r.sessions[prevID]; ok && prev.IsActive(now) {
			superseded = prev.Clone()
			delete(r.sessions, prevID)
		}
	}

	r.sessions[session.ID] = session
	r.byIdentity[identity] = session.ID

	return session.Clone(), superseded, nil
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if session.IsExpired(r.clock.Now()) && !session.Verified {
		return nil, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	delete(r.sessions, id)
	if current, ok := r.byIdentity[session.Identity]; ok && current == id {
		delete(r.byIdentity, session.Identity)
	}
	return true, nil
}

func (r *sessionRepository) MarkVerified(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	// a code observed after the deadline does not count
	if session.Verified || session.IsExpired(r.clock.Now()) {
		return false, nil
	}
	session.Verified = true
	return true, nil
}

func (r *sessionRepository) ListActive(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	return r.list(func(s *domain.Session) bool {
		return s.IsActive(now)
	}), nil
}

func (r *sessionRepository) ListExpiredUnverified(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	return r.list(func(s *domain.Session) bool {
		return s.IsExpired(now) && !s.Verified
	}), nil
}

func (r *sessionRepository) ListExpiredVerified(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	return r.list(func(s *domain.Session) bool {
		return s.IsExpired(now) && s.Verified
	}), nil
}

func (r *sessionRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// list copies matching sessions, oldest first.
func (r *sessionRepository) list(match func(*domain.Session) bool) []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Session
	for _, s := range r.sessions {
		if match(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
