package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
)

func TestTickAcceptsOnlyRequestersWithSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.StartVerification(ctx, "user-1", ""); err != nil {
		t.Fatalf("StartVerification: %v", err)
	}
	env.platform.pending = []string{"stranger", "user-1"}

	report := env.reconciler.Tick(ctx)
	if report.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1", report.Accepted)
	}
	if env.platform.acceptedCount("stranger") != 0 {
		t.Error("accepted a request without an active session")
	}
	if isFriend, known, _ := env.friends.Get(ctx, "user-1"); !known || !isFriend {
		t.Error("accepted friend not cached")
	}
}

func TestTickAcceptsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.service.StartVerification(ctx, "user-1", "")
	env.platform.pending = []string{"user-1"}
	env.platform.keepPending = true

	env.reconciler.Tick(ctx)
	env.reconciler.Tick(ctx)
	env.reconciler.Tick(ctx)

	if n := env.platform.acceptedCount("user-1"); n != 1 {
		t.Fatalf("accepted %d times, want 1", n)
	}
}

func TestTickVerifiesInSameTickAsAcceptance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, _ := env.service.StartVerification(ctx, "user-1", "http://localhost/hook")
	env.platform.pending = []string{"user-1"}
	env.platform.send("user-1", "bot", "hello, my code is "+session.Code)

	report := env.reconciler.Tick(ctx)
	if report.Accepted != 1 || report.Verified != 1 {
		t.Fatalf("report = %+v, want one accepted and one verified", report)
	}

	status, err := env.service.GetStatus(ctx, session.ID)
	if err != nil || !status.Verified {
		t.Fatalf("status = %+v, %v; want verified", status, err)
	}

	sent := env.webhooks.Sent()
	if len(sent) != 1 || sent[0].Payload.Status != domain.OutcomeVerified || sent[0].Payload.UserID != "user-1" {
		t.Fatalf("webhooks = %+v, want one verified", sent)
	}

	if _, known, _ := env.friends.Get(ctx, "user-1"); known {
		t.Error("friend cache entry kept after verification")
	}

	// further ticks must not re-verify or re-notify
	env.reconciler.Tick(ctx)
	if n := len(env.webhooks.Sent()); n != 1 {
		t.Fatalf("webhooks = %d after second tick, want 1", n)
	}
}

func TestTickCodeMatchIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.platform.friends["user-1"] = true

	session, _ := env.service.StartVerification(ctx, "user-1", "")
	env.platform.send("user-1", "bot", strings.ToLower(session.Code))

	if report := env.reconciler.Tick(ctx); report.Verified != 1 {
		t.Fatalf("verified = %d, want 1", report.Verified)
	}
}

func TestTickIgnoresBotMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.platform.friends["user-1"] = true

	session, _ := env.service.StartVerification(ctx, "user-1", "")
	env.platform.send("bot", "user-1", "Your code is "+session.Code)

	if report := env.reconciler.Tick(ctx); report.Verified != 0 {
		t.Fatal("verified from a message the identity did not send")
	}
}

func TestTickSkipsNonFriends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, _ := env.service.StartVerification(ctx, "user-1", "")
	env.platform.send("user-1", "bot", session.Code)

	if report := env.reconciler.Tick(ctx); report.Verified != 0 {
		t.Fatal("verified an identity that is not a friend")
	}
	if env.platform.readCalls["user-1"] != 0 {
		t.Error("read chat of a non-friend")
	}
}

func TestTickUnknownCacheQueriesPlatform(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, _ := env.service.StartVerification(ctx, "user-1", "")
	env.friends.Invalidate(ctx, "user-1")
	env.platform.friends["user-1"] = true
	env.platform.send("user-1", "bot", session.Code)

	if report := env.reconciler.Tick(ctx); report.Verified != 1 {
		t.Fatalf("verified = %d, want 1", report.Verified)
	}
}

func TestTickChatNotFoundInvalidatesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.platform.friends["user-1"] = true

	env.service.StartVerification(ctx, "user-1", "")
	env.platform.chatNotFound["user-1"] = true

	report := env.reconciler.Tick(ctx)
	if report.Errors != 0 {
		t.Errorf("errors = %d, want 0", report.Errors)
	}
	if _, known, _ := env.friends.Get(ctx, "user-1"); known {
		t.Fatal("cache entry survived a not-found chat read")
	}
}

func TestTickExpiresWithCallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, _ := env.service.StartVerification(ctx, "user-1", "http://localhost/hook")
	env.clock.Advance(5 * time.Minute)

	report := env.reconciler.Tick(ctx)
	if report.Expired != 1 {
		t.Fatalf("expired = %d, want 1", report.Expired)
	}

	sent := env.webhooks.Sent()
	if len(sent) != 1 || sent[0].Payload.Status != domain.OutcomeExpired || sent[0].Payload.SessionID != session.ID.String() {
		t.Fatalf("webhooks = %+v, want one expired", sent)
	}

	env.reconciler.Tick(ctx)
	if n := len(env.webhooks.Sent()); n != 1 {
		t.Fatalf("webhooks = %d after second tick, want 1", n)
	}
}

func TestTickExpiresWithoutCallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.service.StartVerification(ctx, "user-1", "")
	env.clock.Advance(6 * time.Minute)

	report := env.reconciler.Tick(ctx)
	if report.Expired != 1 {
		t.Fatalf("expired = %d, want 1", report.Expired)
	}
	if n := len(env.webhooks.Sent()); n != 0 {
		t.Fatalf("webhooks = %d, want 0", n)
	}
}

func TestTickCleansExpiredVerified(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.platform.friends["user-1"] = true

	session, _ := env.service.StartVerification(ctx, "user-1", "http://localhost/hook")
	env.platform.send("user-1", "bot", session.Code)
	env.reconciler.Tick(ctx)

	env.clock.Advance(5 * time.Minute)
	report := env.reconciler.Tick(ctx)
	if report.Cleaned != 1 || report.Expired != 0 {
		t.Fatalf("report = %+v, want one cleaned and none expired", report)
	}
	if n := len(env.webhooks.Sent()); n != 1 {
		t.Fatalf("webhooks = %d, want only the verified one", n)
	}
}

func TestTickCodeAfterExpiryDoesNotVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.platform.friends["user-1"] = true

	session, _ := env.service.StartVerification(ctx, "user-1", "http://localhost/hook")
	env.clock.Advance(5 * time.Minute)
	env.platform.send("user-1", "bot", session.Code)

	report := env.reconciler.Tick(ctx)
	if report.Verified != 0 || report.Expired != 1 {
		t.Fatalf("report = %+v, want expired not verified", report)
	}
}

func TestTickReadReturningAfterDeadlineDoesNotVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.platform.friends["user-1"] = true

	session, _ := env.service.StartVerification(ctx, "user-1", "http://localhost/hook")
	env.platform.send("user-1", "bot", session.Code)
	// the chat read is slow enough to outlive the session
	env.platform.onRead = func(string) { env.clock.Advance(6 * time.Minute) }

	report := env.reconciler.Tick(ctx)
	if report.Verified != 0 {
		t.Fatalf("verified = %d, want 0 for a code read after the deadline", report.Verified)
	}
	if report.Expired != 1 {
		t.Fatalf("expired = %d, want the same tick to sweep the session", report.Expired)
	}

	sent := env.webhooks.Sent()
	if len(sent) != 1 || sent[0].Payload.Status != domain.OutcomeExpired {
		t.Fatalf("webhooks = %+v, want one expired", sent)
	}
}

// clockAdvancingSessions moves the clock forward while the sweep runs, so a
// deadline passes between the sweep and the end of the tick.
type clockAdvancingSessions struct {
	repository.SessionRepository
	clock *fakeClock
	step  time.Duration
}

func (s *clockAdvancingSessions) ListExpiredVerified(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	out, err := s.SessionRepository.ListExpiredVerified(ctx, now)
	s.clock.Advance(s.step)
	return out, err
}

func TestTickRemainingCountsDeadlinePassingDuringSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sessions := &clockAdvancingSessions{SessionRepository: env.sessions, clock: env.clock, step: time.Second}
	reconciler := NewReconciler(sessions, env.friends, env.platform, env.webhooks, testConfig(), env.clock.Now)

	session, _ := env.service.StartVerification(ctx, "user-1", "http://localhost/hook")
	env.clock.Advance(5*time.Minute - 500*time.Millisecond)

	report := reconciler.Tick(ctx)
	if report.Expired != 0 {
		t.Fatalf("expired = %d, want 0 before the deadline", report.Expired)
	}
	if report.Remaining != 1 {
		t.Fatalf("remaining = %d, want 1 so the loop stays armed", report.Remaining)
	}

	report = reconciler.Tick(ctx)
	if report.Expired != 1 {
		t.Fatalf("expired = %d on the next tick, want 1", report.Expired)
	}
	sent := env.webhooks.Sent()
	if len(sent) != 1 || sent[0].Payload.SessionID != session.ID.String() || sent[0].Payload.Status != domain.OutcomeExpired {
		t.Fatalf("webhooks = %+v, want one expired", sent)
	}
}

func TestTickContainsPerIdentityFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	upstream := errors.New("connection reset")

	if _, err := env.service.StartVerification(ctx, "user-d", "http://localhost/expired"); err != nil {
		t.Fatalf("start user-d: %v", err)
	}
	env.clock.Advance(4 * time.Minute)

	env.platform.friends["user-c"] = true
	for _, id := range []string{"user-a", "user-c"} {
		if _, err := env.service.StartVerification(ctx, id, ""); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}
	b, err := env.service.StartVerification(ctx, "user-b", "http://localhost/verified")
	if err != nil {
		t.Fatalf("start user-b: %v", err)
	}
	env.clock.Advance(time.Minute)

	// user-a fails acceptance and the friend lookup; user-c fails the chat read
	env.platform.pending = []string{"user-a", "user-b"}
	env.platform.acceptErr["user-a"] = upstream
	env.platform.friendErr["user-a"] = upstream
	env.platform.readErr["user-c"] = upstream
	env.friends.Invalidate(ctx, "user-a")
	env.platform.send("user-b", "bot", b.Code)

	report := env.reconciler.Tick(ctx)
	if report.Accepted != 1 || env.platform.acceptedCount("user-b") != 1 {
		t.Fatalf("report = %+v, want user-b accepted", report)
	}
	if report.Verified != 1 {
		t.Fatalf("verified = %d, want user-b verified", report.Verified)
	}
	if report.Expired != 1 {
		t.Fatalf("expired = %d, want the sweep to still run", report.Expired)
	}
	if report.Errors != 3 {
		t.Fatalf("errors = %d, want 3 (accept and friend check for user-a, read for user-c)", report.Errors)
	}
	if report.Remaining != 3 {
		t.Fatalf("remaining = %d, want 3", report.Remaining)
	}

	outcomes := map[string]domain.Outcome{}
	for _, w := range env.webhooks.Sent() {
		outcomes[w.Payload.UserID] = w.Payload.Status
	}
	if outcomes["user-b"] != domain.OutcomeVerified || outcomes["user-d"] != domain.OutcomeExpired || len(outcomes) != 2 {
		t.Fatalf("webhook outcomes = %v", outcomes)
	}
}

func TestTickDoesNotAcceptForVerifiedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, _ := env.service.StartVerification(ctx, "user-1", "")
	env.platform.pending = []string{"user-1"}
	env.platform.keepPending = true
	env.platform.send("user-1", "bot", session.Code)

	if report := env.reconciler.Tick(ctx); report.Accepted != 1 || report.Verified != 1 {
		t.Fatalf("report = %+v, want accepted and verified", report)
	}

	env.reconciler.Tick(ctx)
	if n := env.platform.acceptedCount("user-1"); n != 1 {
		t.Fatalf("accepted %d times, want 1 after verification", n)
	}
}

func TestRunWakesAndGoesIdle(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		env.reconciler.Run(ctx)
		close(done)
	}()

	env.service.StartVerification(ctx, "user-1", "http://localhost/hook")
	env.clock.Advance(5 * time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if report := env.reconciler.LastReport(); report != nil && report.Expired == 1 {
			if report.Remaining != 0 {
				t.Fatalf("remaining = %d, want 0", report.Remaining)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reconciler never swept the expired session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := len(env.webhooks.Sent()); n != 1 {
		t.Fatalf("webhooks = %d, want 1", n)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWakeNeverBlocks(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		env.reconciler.Wake()
	}
}
