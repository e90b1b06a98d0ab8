package geoguessr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://www.geoguessr.com"
	siteOrigin     = "https://www.geoguessr.com"
	maxBodyBytes   = 1 << 20
)

var (
	// ErrNotFound is returned when the platform answers 404, typically because
	// the user is no longer a friend of the bot.
	ErrNotFound     = errors.New("geoguessr: not found")
	ErrUnauthorized = errors.New("geoguessr: ncfa token rejected")
)

// StatusError reports an unexpected HTTP status from the platform.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geoguessr: %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Config holds client configuration
type Config struct {
	BaseURL           string        // site root, e.g. https://www.geoguessr.com
	NcfaToken         string        // value of the _ncfa session cookie of the bot account
	Timeout           time.Duration // per-request HTTP timeout
	RequestsPerSecond float64       // outbound pacing, 0 disables it
	Burst             int
}

// Client talks to the GeoGuessr social and chat API on behalf of the bot account.
type Client struct {
	httpClient *http.Client
	baseURL    string
	ncfaToken  string
	limiter    *rate.Limiter
}

// NewClient creates a new GeoGuessr API client
func NewClient(cfg Config) (*Client, error) {
	if cfg.NcfaToken == "" {
		return nil, fmt.Errorf("geoguessr ncfa token is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   baseURL,
		ncfaToken: cfg.NcfaToken,
		limiter:   limiter,
	}, nil
}

// IsFriend reports whether userID is on the bot's friend list.
func (c *Client) IsFriend(ctx context.Context, userID string) (bool, error) {
	var friends []Friend
	if err := c.do(ctx, "list friends", http.MethodGet, "/api/v3/social/friends", nil, &friends); err != nil {
		return false, err
	}

	for _, friend := range friends {
		if friend.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// PendingFriendRequests returns the user IDs of inbound friend requests.
func (c *Client) PendingFriendRequests(ctx context.Context) ([]string, error) {
	var requests []FriendRequest
	if err := c.do(ctx, "list friend requests", http.MethodGet, "/api/v3/social/friends/received", nil, &requests); err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(requests))
	for _, req := range requests {
		if req.UserID != "" {
			userIDs = append(userIDs, req.UserID)
		}
	}
	return userIDs, nil
}

// AcceptFriendRequest accepts the pending request sent by userID.
func (c *Client) AcceptFriendRequest(ctx context.Context, userID string) error {
	path := fmt.Sprintf("/api/v3/social/friends/%s?context=", url.PathEscape(userID))
	if err := c.do(ctx, "accept friend request", http.MethodPut, path, []byte("{}"), nil); err != nil {
		return err
	}
	log.Printf("[GEOGUESSR] Accepted friend request from %s", userID)
	return nil
}

// ReadMessages returns the recent messages of the private chat with userID.
func (c *Client) ReadMessages(ctx context.Context, userID string) ([]ChatMessage, error) {
	var resp chatResponse
	path := fmt.Sprintf("/api/v4/chat/%s", url.PathEscape(userID))
	if err := c.do(ctx, "read chat", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// do sends one request with the session cookie and browser-like headers the
// site expects, and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("geoguessr: %s: %w", op, err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("geoguessr: failed to create %s request: %w", op, err)
	}

	req.Header.Set("Accept", "*/*")
	req.Header.Set("Origin", siteOrigin)
	req.Header.Set("Referer", siteOrigin+"/")
	req.Header.Set("x-client", "web")
	req.AddCookie(&http.Cookie{Name: "_ncfa", Value: c.ncfaToken})
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("geoguessr: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("geoguessr: failed to read %s response: %w", op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, op)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("geoguessr: failed to parse %s response: %w", op, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
