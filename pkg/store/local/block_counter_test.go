package local

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockCounterIncrementAndGet(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewBlockCounter(t.TempDir())
	require.NoError(t, err)
	s.WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Increment(ctx, "MD-001", time.Hour))
	}
	require.NoError(t, s.Increment(ctx, "MD-002", time.Hour))

	n, err := s.Get(ctx, "MD-001", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Get(ctx, "MD-002", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "counters are per rule")

	n, err = s.Get(ctx, "MD-003", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unknown rule reads zero")
}

func TestBlockCounterTTLExpiry(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewBlockCounter(t.TempDir())
	require.NoError(t, err)
	s.WithClock(func() time.Time { return current })
	ctx := context.Background()

	require.NoError(t, s.Increment(ctx, "MD-001", time.Hour))

	n, err := s.Get(ctx, "MD-001", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	current = current.Add(time.Hour + time.Second)

	n, err = s.Get(ctx, "MD-001", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "expired buckets read zero; recovery needs no manual reset")
}

func TestBlockCounterIncrementAfterExpiryStartsFresh(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewBlockCounter(t.TempDir())
	require.NoError(t, err)
	s.WithClock(func() time.Time { return current })
	ctx := context.Background()

	require.NoError(t, s.Increment(ctx, "MD-001", time.Minute))
	current = current.Add(2 * time.Minute)
	require.NoError(t, s.Increment(ctx, "MD-001", time.Minute))

	n, err := s.Get(ctx, "MD-001", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "pruned buckets must not resurrect old counts")
}

func TestBlockCounterConcurrentIncrements(t *testing.T) {
	s, err := NewBlockCounter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Increment(ctx, "MD-001", time.Hour)
		}()
	}
	wg.Wait()

	n, err := s.Get(ctx, "MD-001", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, writers, n, "increments must not be lost under concurrency")
}
