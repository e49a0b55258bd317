package store

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowObservedFPR(t *testing.T) {
	w := &Window{Total: 4, FalsePositives: 1}
	assert.InDelta(t, 0.25, w.ObservedFPR(), 1e-9)

	empty := &Window{}
	assert.Zero(t, empty.ObservedFPR())

	var nilWindow *Window
	assert.Zero(t, nilWindow.ObservedFPR())
}

func TestRandomizeTimestamp(t *testing.T) {
	rnd := rand.New(rand.NewSource(1)) //nolint:gosec // deterministic test seed
	ts := time.Date(2026, 2, 1, 10, 17, 42, 123, time.UTC)

	got := RandomizeTimestamp(ts, time.Hour, rnd)
	start := ts.Truncate(time.Hour)
	assert.False(t, got.Before(start))
	assert.True(t, got.Before(start.Add(time.Hour)))

	assert.Equal(t, ts, RandomizeTimestamp(ts, 0, rnd), "zero window disables randomization")
}

func TestKeystoreInstallNeverReusesVersions(t *testing.T) {
	ks := NewKeystore()
	now := time.Now()

	assert.Equal(t, 1, ks.Install(strings.Repeat("a", 64), now))
	assert.Equal(t, 2, ks.Install(strings.Repeat("b", 64), now))

	ks.Remove(1)
	ks.Remove(2)
	require.Empty(t, ks.Versions())

	assert.Equal(t, 3, ks.Install(strings.Repeat("c", 64), now))
	assert.Equal(t, 3, ks.ActiveVersion)
}

func TestKeystoreLookupResolvesActive(t *testing.T) {
	ks := NewKeystore()
	ks.Install(strings.Repeat("a", 64), time.Now())
	ks.Install(strings.Repeat("b", 64), time.Now())

	nonce, ok := ks.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, 2, nonce.Version)
	assert.Equal(t, strings.Repeat("b", 64), nonce.Value)

	nonce, ok = ks.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, 1, nonce.Version)

	_, ok = ks.Lookup(9)
	assert.False(t, ok)
}

func TestKeystoreRemoveActiveFallsBack(t *testing.T) {
	ks := NewKeystore()
	ks.Install(strings.Repeat("a", 64), time.Now())
	ks.Install(strings.Repeat("b", 64), time.Now())
	ks.Install(strings.Repeat("c", 64), time.Now())

	ks.Remove(3)
	assert.Equal(t, 2, ks.ActiveVersion)
	assert.Equal(t, []int{1, 2}, ks.Versions())
}

func TestKeystoreDecodeRoundTrip(t *testing.T) {
	ks := NewKeystore()
	ks.Install(strings.Repeat("a", 64), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	data, err := ks.Encode()
	require.NoError(t, err)

	decoded, err := DecodeKeystore(data)
	require.NoError(t, err)
	assert.Equal(t, ks.ActiveVersion, decoded.ActiveVersion)
	assert.Equal(t, ks.LastVersion, decoded.LastVersion)
	assert.Equal(t, ks.Nonces, decoded.Nonces)

	_, err = DecodeKeystore([]byte("{not json"))
	assert.Error(t, err)

	empty, err := DecodeKeystore([]byte("{}"))
	require.NoError(t, err)
	assert.NotNil(t, empty.Nonces)
}
