package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	all := []Status{StatusPending, StatusAuthorized, StatusDenied, StatusConsumed, StatusExpired}

	allowed := map[Status]map[Status]bool{
		StatusPending:    {StatusAuthorized: true, StatusDenied: true, StatusExpired: true},
		StatusAuthorized: {StatusConsumed: true, StatusExpired: true},
		StatusDenied:     {StatusExpired: true},
		StatusConsumed:   {},
		StatusExpired:    {},
	}

	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			want := allowed[from][to]
			assert.Equal(t, want, got, "transition %s -> %s", from, to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusAuthorized.Terminal())
	assert.False(t, StatusDenied.Terminal())
	assert.True(t, StatusConsumed.Terminal())
	assert.True(t, StatusExpired.Terminal())
}

func TestFlowValid(t *testing.T) {
	assert.True(t, FlowAuthCode.Valid())
	assert.True(t, FlowDeviceCode.Valid())
	assert.False(t, Flow("implicit").Valid())
	assert.False(t, Flow("").Valid())
}

func TestEffectiveStatusLazyExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &Session{Status: StatusPending, ExpiresAt: now.Add(time.Minute)}

	assert.Equal(t, StatusPending, session.EffectiveStatus(now))
	assert.Equal(t, StatusExpired, session.EffectiveStatus(now.Add(2*time.Minute)))
}

func TestEffectiveStatusConsumedNeverExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &Session{Status: StatusConsumed, ExpiresAt: now.Add(-time.Hour)}

	assert.Equal(t, StatusConsumed, session.EffectiveStatus(now))
}

func TestValidateForDecision(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("pending and live", func(t *testing.T) {
		session := &Session{Status: StatusPending, ExpiresAt: now.Add(time.Minute)}
		require.NoError(t, session.ValidateForDecision(now))
	})

	t.Run("expired", func(t *testing.T) {
		session := &Session{Status: StatusPending, ExpiresAt: now.Add(-time.Minute)}
		require.Error(t, session.ValidateForDecision(now))
	})

	t.Run("already decided", func(t *testing.T) {
		session := &Session{Status: StatusAuthorized, ExpiresAt: now.Add(time.Minute)}
		require.Error(t, session.ValidateForDecision(now))
	})
}

func TestValidateForConsume(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("authorized and live", func(t *testing.T) {
		session := &Session{Status: StatusAuthorized, ExpiresAt: now.Add(time.Minute)}
		require.NoError(t, session.ValidateForConsume(now))
	})

	t.Run("consumed", func(t *testing.T) {
		session := &Session{Status: StatusConsumed, ExpiresAt: now.Add(time.Minute)}
		require.Error(t, session.ValidateForConsume(now))
	})

	t.Run("expired", func(t *testing.T) {
		session := &Session{Status: StatusAuthorized, ExpiresAt: now.Add(-time.Minute)}
		require.Error(t, session.ValidateForConsume(now))
	})

	t.Run("still pending", func(t *testing.T) {
		session := &Session{Status: StatusPending, ExpiresAt: now.Add(time.Minute)}
		require.Error(t, session.ValidateForConsume(now))
	})
}
