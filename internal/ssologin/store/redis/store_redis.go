// Package redis persists SSO login sessions in Redis for multi-instance
// deployments. Same WATCH-based optimistic locking as the authorization
// session store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mirpass/internal/ssologin/models"
	"mirpass/internal/ssologin/store"
	"mirpass/pkg/platform/sentinel"
)

const (
	keyPrefix = "ssologin:id:"

	maxUpdateRetries = 5
)

// Store is the Redis-backed login session store.
type Store struct {
	client  *redis.Client
	nowTime func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNowTime sets the clock function (primarily for testing TTLs).
func WithNowTime(now func() time.Time) Option {
	return func(s *Store) { s.nowTime = now }
}

// New constructs a Redis-backed login session store.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, nowTime: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ttlFor(session *models.LoginSession) time.Duration {
	ttl := session.ExpiresAt.Sub(s.nowTime())
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

func (s *Store) Create(ctx context.Context, session *models.LoginSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal login session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+session.ID, data, s.ttlFor(session)).Result()
	if err != nil {
		return fmt.Errorf("store login session: %w", err)
	}
	if !ok {
		return fmt.Errorf("login session %s: %w", session.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.LoginSession, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("login session not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get login session: %w", err)
	}
	var session models.LoginSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal login session: %w", err)
	}
	return &session, nil
}

func (s *Store) Update(ctx context.Context, id string, fn store.UpdateFunc) (*models.LoginSession, error) {
	key := keyPrefix + id

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		var result *models.LoginSession

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("login session not found: %w", sentinel.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("get login session: %w", err)
			}

			var working models.LoginSession
			if err := json.Unmarshal(data, &working); err != nil {
				return fmt.Errorf("unmarshal login session: %w", err)
			}

			if err := fn(&working); err != nil {
				if errors.Is(err, store.ErrNoChange) {
					result = &working
					return nil
				}
				return err
			}

			updated, err := json.Marshal(&working)
			if err != nil {
				return fmt.Errorf("marshal login session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, s.ttlFor(&working))
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
	return nil, fmt.Errorf("login session update contention: %w", sentinel.ErrConflict)
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	deleted := 0
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var session models.LoginSession
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if !session.Expired(now) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return deleted, fmt.Errorf("delete expired login session: %w", err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan login sessions: %w", err)
	}
	return deleted, nil
}
