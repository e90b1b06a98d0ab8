package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/andressep95/geo-verification/internal/config"
	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
	"github.com/andressep95/geo-verification/pkg/geoguessr"
)

// TickReport summarizes one reconciliation pass.
type TickReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Active    int           `json:"active"`   // active sessions in the snapshot
	Accepted  int           `json:"accepted"` // friend requests accepted
	Verified  int           `json:"verified"`
	Expired   int           `json:"expired"` // unverified sessions removed after their deadline
	Cleaned   int           `json:"cleaned"` // verified sessions removed after their deadline
	Errors    int           `json:"errors"`
	Remaining int           `json:"remaining"` // active sessions left after the pass
}

// Reconciler drives sessions to a terminal state: it accepts friend requests
// from identities with an active session, watches their chats for the code
// and sweeps expired sessions. Only Run ticks, so passes never overlap.
type Reconciler struct {
	sessions    repository.SessionRepository
	friends     repository.FriendCache
	platform    PlatformClient
	webhooks    WebhookDispatcher
	locks       *keyedMutex
	interval    time.Duration
	callTimeout time.Duration
	clock       repository.Clock

	wake chan struct{}

	mu   sync.RWMutex
	last *TickReport
}

func NewReconciler(
	sessions repository.SessionRepository,
	friends repository.FriendCache,
	platform PlatformClient,
	webhooks WebhookDispatcher,
	cfg *config.Config,
	clock repository.Clock,
) *Reconciler {
	return &Reconciler{
		sessions:    sessions,
		friends:     friends,
		platform:    platform,
		webhooks:    webhooks,
		locks:       newKeyedMutex(),
		interval:    cfg.Verification.ReconcileInterval,
		callTimeout: cfg.Platform.CallTimeout,
		clock:       clock,
		wake:        make(chan struct{}, 1),
	}
}

// Wake arms the loop. It never blocks.
func (r *Reconciler) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// LockIdentity serializes session changes for one identity with the sweep
// and the chat scan. Call the returned func to release.
func (r *Reconciler) LockIdentity(identity string) func() {
	return r.locks.Lock(identity)
}

// LastReport returns the most recent tick report, or nil before the first tick.
func (r *Reconciler) LastReport() *TickReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	report := *r.last
	return &report
}

// Run ticks every interval while there is work and idles otherwise. It
// returns when ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	log.Printf("[RECONCILER] Started with interval %v", r.interval)

	armed := false
	if active, err := r.sessions.ListActive(ctx, r.clock.Now()); err != nil {
		log.Printf("[RECONCILER] Failed to load active sessions: %v", err)
		armed = true
	} else if len(active) > 0 {
		log.Printf("[RECONCILER] Resuming with %d active sessions", len(active))
		armed = true
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if !armed {
			select {
			case <-ctx.Done():
				log.Printf("[RECONCILER] Stopped")
				return
			case <-r.wake:
				armed = true
				ticker.Reset(r.interval)
			}
			continue
		}

		select {
		case <-ctx.Done():
			log.Printf("[RECONCILER] Stopped")
			return
		case <-r.wake:
		case <-ticker.C:
			report := r.Tick(ctx)
			if report.Remaining == 0 && report.Errors == 0 {
				armed = false
				log.Printf("[RECONCILER] No active sessions, going idle")
			}
		}
	}
}

// Tick runs one pass: acceptance, then chat scan, then expiry.
func (r *Reconciler) Tick(ctx context.Context) TickReport {
	report := TickReport{StartedAt: r.clock.Now()}

	active, err := r.sessions.ListActive(ctx, report.StartedAt)
	if err != nil {
		log.Printf("[RECONCILER] Failed to list active sessions: %v", err)
		report.Errors++
	}
	report.Active = len(active)

	if len(active) > 0 {
		r.acceptFriendRequests(ctx, active, &report)
		r.scanChats(ctx, active, &report)
	}
	// Remaining uses the sweep's instant so a deadline passing in between is
	// still counted and keeps the loop armed.
	now := r.clock.Now()
	r.sweepExpired(ctx, now, &report)

	if remaining, err := r.sessions.ListActive(ctx, now); err != nil {
		report.Errors++
	} else {
		report.Remaining = len(remaining)
	}

	report.Duration = r.clock.Now().Sub(report.StartedAt)

	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()

	if report.Accepted+report.Verified+report.Expired+report.Errors > 0 {
		log.Printf("[RECONCILER] Tick: active=%d accepted=%d verified=%d expired=%d cleaned=%d errors=%d",
			report.Active, report.Accepted, report.Verified, report.Expired, report.Cleaned, report.Errors)
	}

	return report
}

// acceptFriendRequests accepts pending requests only from identities that
// hold an active, unverified session in the snapshot.
func (r *Reconciler) acceptFriendRequests(ctx context.Context, active []*domain.Session, report *TickReport) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	pending, err := r.platform.PendingFriendRequests(callCtx)
	cancel()
	if err != nil {
		log.Printf("[RECONCILER] Failed to list friend requests: %v", err)
		report.Errors++
		return
	}

	wanted := make(map[string]bool, len(active))
	for _, s := range active {
		if s.Verified {
			continue
		}
		wanted[s.Identity] = true
	}

	for _, identity := range pending {
		if !wanted[identity] {
			continue
		}

		if isFriend, known, err := r.friends.Get(ctx, identity); err == nil && known && isFriend {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		err := r.platform.AcceptFriendRequest(callCtx, identity)
		cancel()
		if err != nil {
			log.Printf("[RECONCILER] Failed to accept friend request from %s: %v", identity, err)
			report.Errors++
			continue
		}

		report.Accepted++
		if err := r.friends.Set(ctx, identity, true); err != nil {
			log.Printf("[RECONCILER] Failed to cache friend status for %s: %v", identity, err)
		}
	}
}

// scanChats looks for each unverified session's code in the messages its
// identity sent to the bot.
func (r *Reconciler) scanChats(ctx context.Context, active []*domain.Session, report *TickReport) {
	for _, session := range active {
		if session.Verified {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		if !r.isFriend(ctx, session.Identity, report) {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		messages, err := r.platform.ReadMessages(callCtx, session.Identity)
		cancel()
		if err != nil {
			if errors.Is(err, geoguessr.ErrNotFound) {
				log.Printf("[RECONCILER] Chat with %s not found, dropping cached friend status", session.Identity)
				r.invalidate(ctx, session.Identity)
				continue
			}
			log.Printf("[RECONCILER] Failed to read chat with %s: %v", session.Identity, err)
			report.Errors++
			continue
		}

		if !containsCode(messages, session.Identity, session.Code) {
			continue
		}

		if r.markVerified(ctx, session, report) {
			report.Verified++
		}
	}
}

// isFriend resolves friendship from the cache, asking the platform when the
// cache has no entry.
func (r *Reconciler) isFriend(ctx context.Context, identity string, report *TickReport) bool {
	isFriend, known, err := r.friends.Get(ctx, identity)
	if err != nil {
		log.Printf("[RECONCILER] Friend cache lookup for %s failed: %v", identity, err)
	}
	if known {
		return isFriend
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	isFriend, err = r.platform.IsFriend(callCtx, identity)
	cancel()
	if err != nil {
		log.Printf("[RECONCILER] Failed to check friend status for %s: %v", identity, err)
		report.Errors++
		return false
	}

	if err := r.friends.Set(ctx, identity, isFriend); err != nil {
		log.Printf("[RECONCILER] Failed to cache friend status for %s: %v", identity, err)
	}
	return isFriend
}

func (r *Reconciler) markVerified(ctx context.Context, session *domain.Session, report *TickReport) bool {
	unlock := r.locks.Lock(session.Identity)
	changed, err := r.sessions.MarkVerified(ctx, session.ID)
	unlock()

	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			log.Printf("[RECONCILER] Session %s was removed before it could be verified", session.ID)
			return false
		}
		log.Printf("[RECONCILER] Failed to mark session %s verified: %v", session.ID, err)
		report.Errors++
		return false
	}
	if !changed {
		return false
	}

	log.Printf("[RECONCILER] User %s verified (session %s)", session.Identity, session.ID)

	if session.HasCallback() {
		r.webhooks.Dispatch(session.CallbackURL,
			domain.NewCallbackPayload(session.ID, session.Identity, domain.OutcomeVerified, r.clock.Now()))
	}
	r.invalidate(ctx, session.Identity)
	return true
}

// sweepExpired removes sessions past their deadline. Only the caller whose
// delete actually removed the session sends its webhook.
func (r *Reconciler) sweepExpired(ctx context.Context, now time.Time, report *TickReport) {
	expired, err := r.sessions.ListExpiredUnverified(ctx, now)
	if err != nil {
		log.Printf("[RECONCILER] Failed to list expired sessions: %v", err)
		report.Errors++
	}
	for _, session := range expired {
		unlock := r.locks.Lock(session.Identity)
		removed, err := r.sessions.Delete(ctx, session.ID)
		unlock()
		if err != nil {
			log.Printf("[RECONCILER] Failed to delete expired session %s: %v", session.ID, err)
			report.Errors++
			continue
		}
		if !removed {
			continue
		}

		report.Expired++
		log.Printf("[RECONCILER] Session %s for %s expired unverified", session.ID, session.Identity)

		if session.HasCallback() {
			r.webhooks.Dispatch(session.CallbackURL,
				domain.NewCallbackPayload(session.ID, session.Identity, domain.OutcomeExpired, now))
		}
		r.invalidate(ctx, session.Identity)
	}

	done, err := r.sessions.ListExpiredVerified(ctx, now)
	if err != nil {
		log.Printf("[RECONCILER] Failed to list finished sessions: %v", err)
		report.Errors++
		return
	}
	for _, session := range done {
		unlock := r.locks.Lock(session.Identity)
		removed, err := r.sessions.Delete(ctx, session.ID)
		unlock()
		if err != nil {
			log.Printf("[RECONCILER] Failed to delete finished session %s: %v", session.ID, err)
			report.Errors++
			continue
		}
		if removed {
			report.Cleaned++
		}
	}
}

func (r *Reconciler) invalidate(ctx context.Context, identity string) {
	if err := r.friends.Invalidate(ctx, identity); err != nil {
		log.Printf("[RECONCILER] Failed to invalidate friend status for %s: %v", identity, err)
	}
}

// containsCode reports whether identity itself sent a message carrying code.
func containsCode(messages []geoguessr.ChatMessage, identity, code string) bool {
	for _, msg := range messages {
		if msg.SourceID != identity {
			continue
		}
		if domain.MatchesCode(msg.TextPayload, code) {
			return true
		}
	}
	return false
}
