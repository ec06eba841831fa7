// Package redis persists authorization sessions in Redis. This is the
// production store for multi-instance deployments: session state must be
// shared so any instance can answer a poll or redeem a code.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mirpass/internal/authsession/models"
	"mirpass/internal/authsession/store"
	"mirpass/pkg/platform/sentinel"
)

const (
	sessionKeyPrefix  = "authsess:id:"
	authCodeKeyPrefix = "authsess:code:"
	deviceKeyPrefix   = "authsess:device:"
	userCodeKeyPrefix = "authsess:usercode:"

	// indexGrace keeps index keys alive slightly longer than the session so
	// a poll on a just-expired device code still resolves to a session and
	// reports expired_token instead of invalid_grant.
	indexGrace = time.Minute

	// maxUpdateRetries bounds optimistic-locking retries under WATCH
	// conflicts before giving up.
	maxUpdateRetries = 5
)

// Store is the Redis-backed session store. Updates run under WATCH so the
// read-mutate-write cycle for a session key is atomic; concurrent writers
// conflict and retry, which gives the same at-most-once consumption
// guarantee as the in-memory store's mutex.
type Store struct {
	client  *redis.Client
	nowTime func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNowTime sets the clock function (primarily for testing TTLs).
func WithNowTime(now func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = now
	}
}

// New constructs a Redis-backed session store.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, nowTime: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ttlFor(session *models.Session) time.Duration {
	ttl := session.ExpiresAt.Sub(s.nowTime()) + indexGrace
	if ttl <= 0 {
		ttl = indexGrace
	}
	return ttl
}

func (s *Store) Create(ctx context.Context, session *models.Session) error {
	ttl := s.ttlFor(session)

	if session.UserCode != "" {
		ok, err := s.client.SetNX(ctx, userCodeKeyPrefix+session.UserCode, session.ID, ttl).Result()
		if err != nil {
			return fmt.Errorf("reserve user code: %w", err)
		}
		if !ok {
			// The code may belong to a session that already left pending;
			// only a live pending session blocks reuse.
			if existing, err := s.FindPendingByUserCode(ctx, session.UserCode); err == nil && existing != nil {
				return fmt.Errorf("user code in use: %w", sentinel.ErrConflict)
			}
			if err := s.client.Set(ctx, userCodeKeyPrefix+session.UserCode, session.ID, ttl).Err(); err != nil {
				return fmt.Errorf("reserve user code: %w", err)
			}
		}
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ID, data, ttl)
	if session.AuthorizationCode != "" {
		pipe.Set(ctx, authCodeKeyPrefix+session.AuthorizationCode, session.ID, ttl)
	}
	if session.DeviceCode != "" {
		pipe.Set(ctx, deviceKeyPrefix+session.DeviceCode, session.ID, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.Session, error) {
	return s.get(ctx, sessionKeyPrefix+id)
}

func (s *Store) FindByAuthCode(ctx context.Context, code string) (*models.Session, error) {
	id, err := s.resolveIndex(ctx, authCodeKeyPrefix+code)
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s *Store) FindByDeviceCode(ctx context.Context, deviceCode string) (*models.Session, error) {
	id, err := s.resolveIndex(ctx, deviceKeyPrefix+deviceCode)
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s *Store) FindPendingByUserCode(ctx context.Context, userCode string) (*models.Session, error) {
	id, err := s.resolveIndex(ctx, userCodeKeyPrefix+userCode)
	if err != nil {
		return nil, err
	}
	session, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusPending {
		return nil, fmt.Errorf("user code no longer active: %w", sentinel.ErrNotFound)
	}
	return session, nil
}

func (s *Store) resolveIndex(ctx context.Context, key string) (string, error) {
	id, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("index %s: %w", key, sentinel.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolve index: %w", err)
	}
	return id, nil
}

func (s *Store) get(ctx context.Context, key string) (*models.Session, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *Store) Update(ctx context.Context, id string, fn store.UpdateFunc) (*models.Session, error) {
	return s.update(ctx, id, fn)
}

func (s *Store) UpdateByAuthCode(ctx context.Context, code string, fn store.UpdateFunc) (*models.Session, error) {
	id, err := s.resolveIndex(ctx, authCodeKeyPrefix+code)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, id, fn)
}

func (s *Store) UpdateByDeviceCode(ctx context.Context, deviceCode string, fn store.UpdateFunc) (*models.Session, error) {
	id, err := s.resolveIndex(ctx, deviceKeyPrefix+deviceCode)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, id, fn)
}

// update runs fn inside a WATCH/MULTI/EXEC cycle on the session key.
// Conflicting concurrent writers fail the EXEC and retry against the fresh
// state, so exactly one of two racing consume attempts can commit.
func (s *Store) update(ctx context.Context, id string, fn store.UpdateFunc) (*models.Session, error) {
	key := sessionKeyPrefix + id

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		var result *models.Session

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}

			var working models.Session
			if err := json.Unmarshal(data, &working); err != nil {
				return fmt.Errorf("unmarshal session: %w", err)
			}
			previousCode := working.AuthorizationCode

			if err := fn(&working); err != nil {
				if errors.Is(err, store.ErrNoChange) {
					result = &working
					return nil
				}
				return err
			}

			updated, err := json.Marshal(&working)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}

			ttl := s.ttlFor(&working)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				if working.AuthorizationCode != previousCode && working.AuthorizationCode != "" {
					pipe.Set(ctx, authCodeKeyPrefix+working.AuthorizationCode, working.ID, ttl)
				}
				return nil
			})
			if err != nil {
				return err
			}
			result = &working
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("session update contention: %w", sentinel.ErrConflict)
}

// DeleteExpired scans for session keys whose payload deadline has passed and
// removes them. Redis TTLs already bound retention; the sweep exists so
// lazily-expired sessions disappear promptly and the metric stays honest.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	deleted := 0
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		session, err := s.get(ctx, key)
		if err != nil {
			continue
		}
		if !session.Expired(now) {
			continue
		}
		pipe := s.client.Pipeline()
		pipe.Del(ctx, key)
		if session.AuthorizationCode != "" {
			pipe.Del(ctx, authCodeKeyPrefix+session.AuthorizationCode)
		}
		if session.DeviceCode != "" {
			pipe.Del(ctx, deviceKeyPrefix+session.DeviceCode)
		}
		if session.UserCode != "" {
			pipe.Del(ctx, userCodeKeyPrefix+session.UserCode)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, fmt.Errorf("delete expired session: %w", err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan sessions: %w", err)
	}
	return deleted, nil
}
