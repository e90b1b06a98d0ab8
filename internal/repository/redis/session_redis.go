package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// sessionRecord is the stored form of a session; unlike domain.Session it
// keeps the code and callback URL.
type sessionRecord struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	Code        string    `json:"code"`
	Verified    bool      `json:"verified"`
	CallbackURL string    `json:"callback_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toRecord(s *domain.Session) sessionRecord {
	return sessionRecord{
		ID:          s.ID.String(),
		Identity:    s.Identity,
		Code:        s.Code,
		Verified:    s.Verified,
		CallbackURL: s.CallbackURL,
		CreatedAt:   s.CreatedAt,
		ExpiresAt:   s.ExpiresAt,
	}
}

func (r sessionRecord) toDomain() (*domain.Session, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("session: invalid stored id %q: %w", r.ID, err)
	}
	return &domain.Session{
		ID:          id,
		Identity:    r.Identity,
		Code:        r.Code,
		Verified:    r.Verified,
		CallbackURL: r.CallbackURL,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}, nil
}

type sessionRepository struct {
	client     *redis.Client
	codeLength int
	retention  time.Duration
	clock      repository.Clock
}

// NewSessionRepository creates a Redis-backed session repository. Session keys
// outlive their TTL by retention so the reconciliation sweep can still see
// and report them; the sweep is what deletes them.
func NewSessionRepository(client *redis.Client, codeLength int, retention time.Duration, clock repository.Clock) repository.SessionRepository {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &sessionRepository{
		client:     client,
		codeLength: codeLength,
		retention:  retention,
		clock:      clock,
	}
}

func (r *sessionRepository) Create(ctx context.Context, identity, callbackURL string, ttl time.Duration) (*domain.Session, *domain.Session, error) {
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
	data, err := json.Marshal(toRecord(session))
	if err != nil {
		return nil, nil, fmt.Errorf("session: failed to marshal: %w", err)
	}

	idKey := identityKey(identity)
	var superseded *domain.Session

	txf := func(tx *redis.Tx) error {
		superseded = nil

		prevID, err := tx.Get(ctx, idKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		if prevID != "" {
			// a concurrent MarkVerified on the previous session must abort this transaction
			if err := tx.Watch(ctx, sessionKey(prevID)).Err(); err != nil {
				return err
			}
			prev, err := r.load(ctx, tx, prevID)
			if err != nil {
				return err
			}
			if prev != nil && prev.IsActive(now) {
				superseded = prev
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if superseded != nil {
				pipe.Del(ctx, sessionKey(prevID))
				pipe.ZRem(ctx, sessionIndexKey, prevID)
			}
			pipe.Set(ctx, sessionKey(session.ID.String()), data, ttl+r.retention)
			pipe.Set(ctx, idKey, session.ID.String(), ttl+r.retention)
			pipe.ZAdd(ctx, sessionIndexKey, redis.Z{
				Score:  float64(session.ExpiresAt.UnixMilli()),
				Member: session.ID.String(),
			})
			return nil
		})
		return err
	}

	if err := r.watch(ctx, txf, idKey); err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, superseded, nil
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	session, err := r.load(ctx, r.client, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get session by id: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	if session.IsExpired(r.clock.Now()) && !session.Verified {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	sid := id.String()
	current, err := r.load(ctx, r.client, sid)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	if current == nil {
		// Still drop a dangling index entry.
		if err := r.client.ZRem(ctx, sessionIndexKey, sid).Err(); err != nil {
			return false, fmt.Errorf("failed to delete session: %w", err)
		}
		return false, nil
	}

	idKey := identityKey(current.Identity)
	var removed bool
	txf := func(tx *redis.Tx) error {
		removed = false

		exists, err := tx.Exists(ctx, sessionKey(sid)).Result()
		if err != nil {
			return err
		}
		owner, err := tx.Get(ctx, idKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, sessionKey(sid))
			pipe.ZRem(ctx, sessionIndexKey, sid)
			if owner == sid {
				pipe.Del(ctx, idKey)
			}
			return nil
		})
		if err == nil {
			removed = exists > 0
		}
		return err
	}

	if err := r.watch(ctx, txf, sessionKey(sid), idKey); err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return removed, nil
}

func (r *sessionRepository) MarkVerified(ctx context.Context, id uuid.UUID) (bool, error) {
	key := sessionKey(id.String())
	var changed bool

	txf := func(tx *redis.Tx) error {
		changed = false

		session, err := r.load(ctx, tx, id.String())
		if err != nil {
			return err
		}
		if session == nil {
			return domain.ErrSessionNotFound
		}
		if session.Verified || session.IsExpired(r.clock.Now()) {
			return nil
		}
		session.Verified = true

		data, err := json.Marshal(toRecord(session))
		if err != nil {
			return fmt.Errorf("session: failed to marshal: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}

	if err := r.watch(ctx, txf, key); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return false, err
		}
		return false, fmt.Errorf("failed to mark session verified: %w", err)
	}
	return changed, nil
}

func (r *sessionRepository) ListActive(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	sessions, err := r.rangeByExpiry(ctx, "("+strconv.FormatInt(now.UnixMilli(), 10), "+inf")
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return sessions, nil
}

func (r *sessionRepository) ListExpiredUnverified(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	sessions, err := r.rangeByExpiry(ctx, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	return filterVerified(sessions, false), nil
}

func (r *sessionRepository) ListExpiredVerified(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	sessions, err := r.rangeByExpiry(ctx, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	return filterVerified(sessions, true), nil
}

func (r *sessionRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *sessionRepository) rangeByExpiry(ctx context.Context, min, max string) ([]*domain.Session, error) {
	ids, err := r.client.ZRangeByScore(ctx, sessionIndexKey, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]*domain.Session, 0, len(values))
	var dangling []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// key dropped by retention; its index member would otherwise stay forever
			dangling = append(dangling, ids[i])
			continue
		}
		session, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if len(dangling) > 0 {
		if err := r.client.ZRem(ctx, sessionIndexKey, dangling...).Err(); err != nil {
			log.Printf("[SESSION] failed to prune %d dangling index members: %v", len(dangling), err)
		}
	}
	return sessions, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// load reads one session. A missing key yields (nil, nil).
func (r *sessionRepository) load(ctx context.Context, cmd getter, id string) (*domain.Session, error) {
	raw, err := cmd.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSession(raw)
}

func (r *sessionRepository) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("session: transaction retries exhausted")
}

func decodeSession(raw string) (*domain.Session, error) {
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return rec.toDomain()
}

func filterVerified(sessions []*domain.Session, verified bool) []*domain.Session {
	out := sessions[:0]
	for _, s := range sessions {
		if s.Verified == verified {
			out = append(out, s)
		}
	}
	return out
}
