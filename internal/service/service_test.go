package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/andressep95/geo-verification/internal/config"
	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
	"github.com/andressep95/geo-verification/internal/repository/memory"
	"github.com/andressep95/geo-verification/pkg/geoguessr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakePlatform struct {
	mu           sync.Mutex
	friends      map[string]bool
	pending      []string
	keepPending  bool
	messages     map[string][]geoguessr.ChatMessage
	chatNotFound map[string]bool
	friendErr    map[string]error
	acceptErr    map[string]error
	readErr      map[string]error
	onRead       func(userID string)
	accepted     []string
	readCalls    map[string]int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		friends:      make(map[string]bool),
		messages:     make(map[string][]geoguessr.ChatMessage),
		chatNotFound: make(map[string]bool),
		friendErr:    make(map[string]error),
		acceptErr:    make(map[string]error),
		readErr:      make(map[string]error),
		readCalls:    make(map[string]int),
	}
}

func (p *fakePlatform) IsFriend(ctx context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.friendErr[userID]; err != nil {
		return false, err
	}
	return p.friends[userID], nil
}

func (p *fakePlatform) PendingFriendRequests(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pending...), nil
}

func (p *fakePlatform) AcceptFriendRequest(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.acceptErr[userID]; err != nil {
		return err
	}
	p.accepted = append(p.accepted, userID)
	p.friends[userID] = true
	if !p.keepPending {
		out := p.pending[:0]
		for _, id := range p.pending {
			if id != userID {
				out = append(out, id)
			}
		}
		p.pending = out
	}
	return nil
}

func (p *fakePlatform) ReadMessages(ctx context.Context, userID string) ([]geoguessr.ChatMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readCalls[userID]++
	if p.onRead != nil {
		p.onRead(userID)
	}
	if err := p.readErr[userID]; err != nil {
		return nil, err
	}
	if p.chatNotFound[userID] {
		return nil, geoguessr.ErrNotFound
	}
	return p.messages[userID], nil
}

func (p *fakePlatform) send(from, to, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	room := from
	if from == "bot" {
		room = to
	}
	p.messages[room] = append(p.messages[room], geoguessr.ChatMessage{
		PayloadType: "Text",
		TextPayload: text,
		SourceID:    from,
		RecipientID: to,
	})
}

func (p *fakePlatform) acceptedCount(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, id := range p.accepted {
		if id == userID {
			n++
		}
	}
	return n
}

type sentWebhook struct {
	URL     string
	Payload domain.CallbackPayload
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentWebhook
}

func (d *recordingDispatcher) Dispatch(url string, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentWebhook{URL: url, Payload: payload.(domain.CallbackPayload)})
}

func (d *recordingDispatcher) Sent() []sentWebhook {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentWebhook(nil), d.sent...)
}

type testEnv struct {
	clock      *fakeClock
	platform   *fakePlatform
	webhooks   *recordingDispatcher
	sessions   repository.SessionRepository
	friends    repository.FriendCache
	reconciler *Reconciler
	service    *VerificationService
}

func testConfig() *config.Config {
	return &config.Config{
		Platform: config.PlatformConfig{CallTimeout: time.Second},
		Verification: config.VerificationConfig{
			CodeExpiry:           5 * time.Minute,
			CodeLength:           6,
			RateLimitPerWindow:   3,
			RateLimitWindow:      time.Hour,
			ReconcileInterval:    10 * time.Millisecond,
			AllowedCallbackHosts: []string{"localhost", "127.0.0.1", "::1"},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testConfig()
	clock := newFakeClock()
	platform := newFakePlatform()
	webhooks := &recordingDispatcher{}

	sessions := memory.NewSessionRepository(cfg.Verification.CodeLength, clock.Now)
	friends := memory.NewFriendCache()
	limiter := NewRateLimiter(memory.NewRateLimitRepository(), cfg.Verification.RateLimitPerWindow, cfg.Verification.RateLimitWindow, clock.Now)

	reconciler := NewReconciler(sessions, friends, platform, webhooks, cfg, clock.Now)
	svc := NewVerificationService(sessions, friends, limiter, platform, webhooks, reconciler, cfg, clock.Now)

	return &testEnv{
		clock:      clock,
		platform:   platform,
		webhooks:   webhooks,
		sessions:   sessions,
		friends:    friends,
		reconciler: reconciler,
		service:    svc,
	}
}
