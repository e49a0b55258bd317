package consent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store/local"
)

func newTestGate(t *testing.T, now func() time.Time) (*Gate, *local.ConsentStore) {
	t.Helper()
	cs, err := local.NewConsentStore(t.TempDir())
	require.NoError(t, err)
	cs.WithClock(now)
	gate := NewGate(cs).WithClock(now)
	return gate, cs
}

func fixedNow() func() time.Time {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func orgGrant(orgID string, resource contracts.Resource) contracts.ConsentRecord {
	return contracts.ConsentRecord{
		OrgID:     orgID,
		Resource:  resource,
		Type:      contracts.ConsentExplicit,
		GrantedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Grantor:   "admin",
	}
}

func TestNotRequestedByDefault(t *testing.T) {
	gate, _ := newTestGate(t, fixedNow())

	result, err := gate.Check(context.Background(), "acme", contracts.ResourceFPMetrics, "")
	require.NoError(t, err)
	assert.False(t, result.Granted)
	assert.Equal(t, contracts.ConsentNotRequested, result.State)
}

func TestOrgGrantCoversRepos(t *testing.T) {
	gate, _ := newTestGate(t, fixedNow())
	ctx := context.Background()

	require.NoError(t, gate.Grant(ctx, orgGrant("acme", contracts.ResourceFPMetrics)))

	for _, repo := range []string{"", "acme/api", "acme/web"} {
		result, err := gate.Check(ctx, "acme", contracts.ResourceFPMetrics, repo)
		require.NoError(t, err)
		assert.True(t, result.Granted, "org-scope grant covers repo %q", repo)
	}

	// Other orgs and other resources stay ungated.
	result, err := gate.Check(ctx, "other", contracts.ResourceFPMetrics, "")
	require.NoError(t, err)
	assert.False(t, result.Granted)

	result, err = gate.Check(ctx, "acme", contracts.ResourceFPPatterns, "")
	require.NoError(t, err)
	assert.False(t, result.Granted)
}

func TestRepoScopeOverridesOrg(t *testing.T) {
	gate, _ := newTestGate(t, fixedNow())
	ctx := context.Background()

	require.NoError(t, gate.Grant(ctx, orgGrant("acme", contracts.ResourceFPMetrics)))

	// A repo-scope none record shadows the org grant for that repo only.
	repoNone := orgGrant("acme", contracts.ResourceFPMetrics)
	repoNone.RepoID = "acme/api"
	repoNone.Type = contracts.ConsentNone
	require.NoError(t, gate.Grant(ctx, repoNone))

	result, err := gate.Check(ctx, "acme", contracts.ResourceFPMetrics, "acme/api")
	require.NoError(t, err)
	assert.False(t, result.Granted, "repo-scope record overrides org grant")

	result, err = gate.Check(ctx, "acme", contracts.ResourceFPMetrics, "acme/web")
	require.NoError(t, err)
	assert.True(t, result.Granted, "other repos keep the org grant")
}

func TestGrantThenRevoke(t *testing.T) {
	gate, _ := newTestGate(t, fixedNow())
	ctx := context.Background()

	require.NoError(t, gate.Grant(ctx, orgGrant("acme", contracts.ResourceFPMetrics)))
	ok, err := gate.CheckAll(ctx, "acme", "", contracts.ResourceFPMetrics)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, gate.Revoke(ctx, "acme", contracts.ResourceFPMetrics, ""))

	result, err := gate.Check(ctx, "acme", contracts.ResourceFPMetrics, "")
	require.NoError(t, err)
	assert.False(t, result.Granted, "revocation is visible immediately after the write")
	assert.Equal(t, contracts.ConsentRevoked, result.State)
}

func TestExpiryCheckedAtReadTime(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	gate, _ := newTestGate(t, clock)
	gate.WithCache(0, 16) // no cache so the clock drives the outcome
	ctx := context.Background()

	rec := orgGrant("acme", contracts.ResourceFPMetrics)
	expires := now.Add(time.Hour)
	rec.ExpiresAt = &expires
	require.NoError(t, gate.Grant(ctx, rec))

	result, err := gate.Check(ctx, "acme", contracts.ResourceFPMetrics, "")
	require.NoError(t, err)
	require.True(t, result.Granted)

	now = now.Add(2 * time.Hour)
	result, err = gate.Check(ctx, "acme", contracts.ResourceFPMetrics, "")
	require.NoError(t, err)
	assert.False(t, result.Granted)
	assert.Equal(t, contracts.ConsentExpired, result.State)
}

func TestCheckAllIsIntersection(t *testing.T) {
	gate, _ := newTestGate(t, fixedNow())
	ctx := context.Background()

	require.NoError(t, gate.Grant(ctx, orgGrant("acme", contracts.ResourceFPMetrics)))

	ok, err := gate.CheckAll(ctx, "acme", "", contracts.ResourceFPMetrics, contracts.ResourceFPPatterns)
	require.NoError(t, err)
	assert.False(t, ok, "one missing resource fails the batch")

	require.NoError(t, gate.Grant(ctx, orgGrant("acme", contracts.ResourceFPPatterns)))
	ok, err = gate.CheckAll(ctx, "acme", "", contracts.ResourceFPMetrics, contracts.ResourceFPPatterns)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRequireReturnsConsentRequired(t *testing.T) {
	gate, _ := newTestGate(t, fixedNow())

	err := gate.Require(context.Background(), "acme", contracts.ResourceFPPatterns, "")
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeConsentRequired))
}

func TestCacheServesWithinTTL(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cs, err := local.NewConsentStore(t.TempDir())
	require.NoError(t, err)
	cs.WithClock(clock)
	gate := NewGate(cs).WithClock(clock).WithCache(time.Minute, 16)
	ctx := context.Background()

	require.NoError(t, gate.Grant(ctx, orgGrant("acme", contracts.ResourceFPMetrics)))

	result, err := gate.Check(ctx, "acme", contracts.ResourceFPMetrics, "")
	require.NoError(t, err)
	require.True(t, result.Granted)

	// A revoke through the gate invalidates the cache even inside the TTL.
	require.NoError(t, gate.Revoke(ctx, "acme", contracts.ResourceFPMetrics, ""))
	result, err = gate.Check(ctx, "acme", contracts.ResourceFPMetrics, "")
	require.NoError(t, err)
	assert.False(t, result.Granted)
}

func TestCacheEvictsAtCapacity(t *testing.T) {
	cache := newLockedCache(2)

	k1 := cacheKey{orgID: "a"}
	k2 := cacheKey{orgID: "b"}
	k3 := cacheKey{orgID: "c"}
	cache.put(k1, cacheEntry{})
	cache.put(k2, cacheEntry{})
	cache.put(k3, cacheEntry{})

	_, ok := cache.get(k1)
	assert.False(t, ok, "oldest entry evicted at capacity")
	_, ok = cache.get(k3)
	assert.True(t, ok)
}
