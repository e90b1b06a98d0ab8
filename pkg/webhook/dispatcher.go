package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	userAgent       = "GeoVerification/1.0"
)

// Config holds dispatcher configuration
type Config struct {
	Secret  string        // HMAC-SHA256 key, empty disables signing
	Timeout time.Duration // per-delivery timeout
}

// Dispatcher posts signed JSON callbacks. Each Dispatch performs exactly one
// attempt; failures are logged and dropped.
type Dispatcher struct {
	httpClient *http.Client
	secret     []byte
	timeout    time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(cfg Config) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Dispatcher{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		secret:  []byte(cfg.Secret),
		timeout: timeout,
	}
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against body in constant time.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Deliver posts payload to url once and waits for the response.
func (d *Dispatcher) Deliver(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if len(d.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(d.secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Dispatch delivers payload in the background. The caller is never blocked
// and never sees the outcome. After Close, payloads are dropped.
func (d *Dispatcher) Dispatch(url string, payload any) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Printf("[WEBHOOK] Dispatcher closed, dropping delivery to %s", url)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.Deliver(ctx, url, payload); err != nil {
			log.Printf("[WEBHOOK] Delivery to %s failed: %v", url, err)
			return
		}
		log.Printf("[WEBHOOK] Delivered to %s", url)
	}()
}

// Close stops accepting deliveries and waits for in-flight ones or until
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
