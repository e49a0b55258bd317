package local

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

const (
	nonceV1 = "1111111111111111111111111111111111111111111111111111111111111111"
	nonceV2 = "2222222222222222222222222222222222222222222222222222222222222222"
)

func TestSecretStoreRotateAndGet(t *testing.T) {
	s, err := NewSecretStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// Empty keystore: nothing to serve, but the backend is fine.
	lookup, err := s.GetNonce(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, contracts.NonceNotFound, lookup.State)

	v1, err := s.Rotate(ctx, nonceV1)
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := s.Rotate(ctx, nonceV2)
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	// Active lookup serves the highest version.
	lookup, err = s.GetNonce(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, contracts.NonceLoaded, lookup.State)
	assert.Equal(t, 2, lookup.Nonce.Version)
	assert.Equal(t, nonceV2, lookup.Nonce.Value)

	// Grace period: the prior version is still loaded.
	lookup, err = s.GetNonce(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, contracts.NonceLoaded, lookup.State)
	assert.Equal(t, nonceV1, lookup.Nonce.Value)

	versions, err := s.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)
}

func TestSecretStoreRotateRejectsBadValue(t *testing.T) {
	s, err := NewSecretStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Rotate(context.Background(), "too-short")
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeInvalidInput))

	_, err = s.Rotate(context.Background(), strings.Repeat("z", 64))
	require.Error(t, err)
}

func TestSecretStoreRetire(t *testing.T) {
	s, err := NewSecretStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Rotate(ctx, nonceV1)
	require.NoError(t, err)
	_, err = s.Rotate(ctx, nonceV2)
	require.NoError(t, err)

	require.NoError(t, s.Retire(ctx, 1))

	lookup, err := s.GetNonce(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, contracts.NonceNotFound, lookup.State, "retired version must read as missing")

	versions, err := s.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, versions)

	// Retiring the active version falls back to the highest survivor.
	require.NoError(t, s.Retire(ctx, 2))
	v3, err := s.Rotate(ctx, nonceV1)
	require.NoError(t, err)
	assert.Equal(t, 3, v3, "versions never regress after retirement")
}

func TestSecretStoreIsReachable(t *testing.T) {
	s, err := NewSecretStore(t.TempDir())
	require.NoError(t, err)
	assert.True(t, s.IsReachable(context.Background()))
}
