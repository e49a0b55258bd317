package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

func TestLocalLimiterBurstThenDeny(t *testing.T) {
	l := NewLocalLimiter(1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, allowed, "burst request %d", i)
	}

	allowed, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, allowed, "burst exhausted")
}

func TestLocalLimiterIsPerActor(t *testing.T) {
	l := NewLocalLimiter(1, 1)
	ctx := context.Background()

	allowed, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = l.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, allowed, "a throttled actor does not affect others")
}

func TestLocalLimiterEvictsStaleActors(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := &LocalLimiter{
		actors: make(map[string]*actorEntry),
		rps:    1,
		burst:  1,
		clock:  func() time.Time { return now },
	}

	_, err := l.Allow(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, l.actors, 1)

	now = now.Add(5 * time.Minute)
	l.evictStale()
	assert.Empty(t, l.actors)
}

func TestLocalLimiterCloseStopsJanitor(t *testing.T) {
	l := NewLocalLimiter(1, 1)
	l.Close()
	l.Close() // idempotent

	select {
	case <-l.done:
	default:
		t.Fatal("done channel still open after Close")
	}

	// The limiter itself keeps working after Close.
	allowed, err := l.Allow(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRequireDenialIsRateLimited(t *testing.T) {
	l := NewLocalLimiter(1, 1)
	ctx := context.Background()

	require.NoError(t, Require(ctx, l, "alice"))

	err := Require(ctx, l, "alice")
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeRateLimited))
}
