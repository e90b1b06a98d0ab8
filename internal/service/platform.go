package service

import (
	"context"

	"github.com/andressep95/geo-verification/pkg/geoguessr"
)

// PlatformClient is the subset of the GeoGuessr API the verification flow uses.
type PlatformClient interface {
	IsFriend(ctx context.Context, userID string) (bool, error)
	PendingFriendRequests(ctx context.Context) ([]string, error)
	AcceptFriendRequest(ctx context.Context, userID string) error
	ReadMessages(ctx context.Context, userID string) ([]geoguessr.ChatMessage, error)
}

// WebhookDispatcher sends a callback in the background, at most once.
type WebhookDispatcher interface {
	Dispatch(url string, payload any)
}

// Scheduler arms the reconciliation loop and owns the per-identity lock the
// loop holds while it changes sessions.
type Scheduler interface {
	Wake()
	LockIdentity(identity string) func()
}

var (
	_ PlatformClient = (*geoguessr.Client)(nil)
	_ Scheduler      = (*Reconciler)(nil)
)
