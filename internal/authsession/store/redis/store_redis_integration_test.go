//go:build integration

package redis_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"mirpass/internal/authsession/models"
	redisstore "mirpass/internal/authsession/store/redis"
	"mirpass/pkg/platform/sentinel"
	"mirpass/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *redisstore.Store
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = redisstore.New(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func makeDeviceSession(userCode string) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:           uuid.NewString(),
		Flow:         models.FlowDeviceCode,
		ClientAppID:  "app-1",
		Status:       models.StatusPending,
		DeviceCode:   uuid.NewString(),
		UserCode:     userCode,
		PollInterval: 5 * time.Second,
		LastPolledAt: now,
		CreatedAt:    now,
		ExpiresAt:    now.Add(15 * time.Minute),
	}
}

func (s *RedisStoreSuite) TestCreateAndLookups() {
	ctx := context.Background()
	sess := makeDeviceSession("ABCD2345")
	s.Require().NoError(s.store.Create(ctx, sess))

	byID, err := s.store.FindByID(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(sess.DeviceCode, byID.DeviceCode)

	byDevice, err := s.store.FindByDeviceCode(ctx, sess.DeviceCode)
	s.Require().NoError(err)
	s.Equal(sess.ID, byDevice.ID)

	byUserCode, err := s.store.FindPendingByUserCode(ctx, "ABCD2345")
	s.Require().NoError(err)
	s.Equal(sess.ID, byUserCode.ID)

	_, err = s.store.FindByID(ctx, "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestUserCodeUniqueWhilePending() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, makeDeviceSession("ABCD2345")))

	err := s.store.Create(ctx, makeDeviceSession("ABCD2345"))
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *RedisStoreSuite) TestConcurrentConsumeSingleWinner() {
	ctx := context.Background()
	sess := makeDeviceSession("ABCD2345")
	sess.Status = models.StatusAuthorized
	sess.UserID = "user-1"
	s.Require().NoError(s.store.Create(ctx, sess))

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount atomic.Int32
	var rejectedCount atomic.Int32

	alreadyConsumed := errors.New("already consumed")
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.UpdateByDeviceCode(ctx, sess.DeviceCode, func(session *models.Session) error {
				if session.Status != models.StatusAuthorized {
					return alreadyConsumed
				}
				session.Status = models.StatusConsumed
				return nil
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, alreadyConsumed):
				rejectedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one consume should succeed")
	s.Equal(int32(goroutines-1), rejectedCount.Load(), "remaining should see consumed state")

	final, err := s.store.FindByID(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusConsumed, final.Status)
}

func (s *RedisStoreSuite) TestUpdateIndexesMintedAuthCode() {
	ctx := context.Background()
	sess := makeDeviceSession("ABCD2345")
	s.Require().NoError(s.store.Create(ctx, sess))

	_, err := s.store.Update(ctx, sess.ID, func(session *models.Session) error {
		session.Status = models.StatusAuthorized
		session.UserID = "user-1"
		session.AuthorizationCode = "minted-code"
		return nil
	})
	s.Require().NoError(err)

	found, err := s.store.FindByAuthCode(ctx, "minted-code")
	s.Require().NoError(err)
	s.Equal(sess.ID, found.ID)
	s.Equal(models.StatusAuthorized, found.Status)
}

func (s *RedisStoreSuite) TestUpdateAbortPersistsNothing() {
	ctx := context.Background()
	sess := makeDeviceSession("ABCD2345")
	s.Require().NoError(s.store.Create(ctx, sess))

	boom := errors.New("validation failed")
	_, err := s.store.Update(ctx, sess.ID, func(session *models.Session) error {
		session.Status = models.StatusDenied
		return boom
	})
	s.Require().ErrorIs(err, boom)

	found, err := s.store.FindByID(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, found.Status)
}

func (s *RedisStoreSuite) TestDeleteExpiredSweepsIndexes() {
	ctx := context.Background()
	expired := makeDeviceSession("WXYZ2345")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	live := makeDeviceSession("ABCD2345")

	s.Require().NoError(s.store.Create(ctx, expired))
	s.Require().NoError(s.store.Create(ctx, live))

	deleted, err := s.store.DeleteExpired(ctx, time.Now())
	s.Require().NoError(err)
	s.Equal(1, deleted)

	_, err = s.store.FindByID(ctx, expired.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByDeviceCode(ctx, expired.DeviceCode)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindByID(ctx, live.ID)
	s.Require().NoError(err)
}

func (s *RedisStoreSuite) TestSessionTTLSet() {
	ctx := context.Background()
	sess := makeDeviceSession("ABCD2345")
	s.Require().NoError(s.store.Create(ctx, sess))

	ttl, err := s.redis.Client.TTL(ctx, "authsess:id:"+sess.ID).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}
