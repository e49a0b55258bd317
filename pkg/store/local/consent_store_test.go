package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

func newTestConsentStore(t *testing.T, now time.Time) *ConsentStore {
	t.Helper()
	s, err := NewConsentStore(t.TempDir())
	require.NoError(t, err)
	return s.WithClock(func() time.Time { return now })
}

func TestConsentOrgScopeCoversRepos(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestConsentStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.GrantConsent(ctx, contracts.ConsentRecord{
		OrgID:    "acme",
		Resource: contracts.ResourceFPMetrics,
		Type:     contracts.ConsentExplicit,
		Grantor:  "admin",
	}))

	for _, repo := range []string{"api", "web", ""} {
		ok, err := s.HasConsent(ctx, "acme", contracts.ResourceFPMetrics, repo)
		require.NoError(t, err)
		assert.True(t, ok, "org grant must cover repo %q", repo)
	}

	ok, err := s.HasConsent(ctx, "acme", contracts.ResourceFPPatterns, "api")
	require.NoError(t, err)
	assert.False(t, ok, "grant must not bleed across resources")

	ok, err = s.HasConsent(ctx, "other", contracts.ResourceFPMetrics, "api")
	require.NoError(t, err)
	assert.False(t, ok, "grant must not bleed across orgs")
}

func TestConsentRepoScopeOverridesOrg(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestConsentStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.GrantConsent(ctx, contracts.ConsentRecord{
		OrgID:    "acme",
		Resource: contracts.ResourceFPMetrics,
		Type:     contracts.ConsentExplicit,
	}))
	require.NoError(t, s.GrantConsent(ctx, contracts.ConsentRecord{
		OrgID:    "acme",
		RepoID:   "sensitive",
		Resource: contracts.ResourceFPMetrics,
		Type:     contracts.ConsentNone,
	}))

	ok, err := s.HasConsent(ctx, "acme", contracts.ResourceFPMetrics, "sensitive")
	require.NoError(t, err)
	assert.False(t, ok, "repo-scope none must override the org grant")

	ok, err = s.HasConsent(ctx, "acme", contracts.ResourceFPMetrics, "open")
	require.NoError(t, err)
	assert.True(t, ok, "other repos keep the org grant")
}

func TestConsentGrantThenRevoke(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestConsentStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.GrantConsent(ctx, contracts.ConsentRecord{
		OrgID:    "acme",
		Resource: contracts.ResourceFPPatterns,
		Type:     contracts.ConsentImplicit,
	}))

	ok, err := s.HasConsent(ctx, "acme", contracts.ResourceFPPatterns, "")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RevokeConsent(ctx, "acme", contracts.ResourceFPPatterns, ""))

	ok, err = s.HasConsent(ctx, "acme", contracts.ResourceFPPatterns, "")
	require.NoError(t, err)
	assert.False(t, ok, "grant-then-revoke must yield hasConsent=false")

	rec, err := s.GetConsent(ctx, "acme", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, contracts.ConsentRevoked, rec.StateAt(now))
}

func TestConsentRevokedRepoRecordShadowsOrgGrant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestConsentStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.GrantConsent(ctx, contracts.ConsentRecord{
		OrgID:    "acme",
		Resource: contracts.ResourceFPMetrics,
		Type:     contracts.ConsentExplicit,
	}))
	require.NoError(t, s.GrantConsent(ctx, contracts.ConsentRecord{
		OrgID:    "acme",
		RepoID:   "opted-out",
		Resource: contracts.ResourceFPMetrics,
		Type:     contracts.ConsentExplicit,
	}))
	require.NoError(t, s.RevokeConsent(ctx, "acme", contracts.ResourceFPMetrics, "opted-out"))

	// The revoked repo record stays the most specific answer; resolution
	// must not fall through to the live org grant.
	ok, err := s.HasConsent(ctx, "acme", contracts.ResourceFPMetrics, "opted-out")
	require.NoError(t, err)
	assert.False(t, ok, "a repo that revoked must stay opted out under an org grant")

	ok, err = s.HasConsent(ctx, "acme", contracts.ResourceFPMetrics, "other")
	require.NoError(t, err)
	assert.True(t, ok, "other repos keep the org grant")
}

func TestConsentExpiryCheckedAtReadTime(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewConsentStore(t.TempDir())
	require.NoError(t, err)
	s.WithClock(func() time.Time { return current })
	ctx := context.Background()

	expiry := current.Add(time.Hour)
	require.NoError(t, s.GrantConsent(ctx, contracts.ConsentRecord{
		OrgID:     "acme",
		Resource:  contracts.ResourceFPMetrics,
		Type:      contracts.ConsentExplicit,
		ExpiresAt: &expiry,
	}))

	ok, err := s.HasConsent(ctx, "acme", contracts.ResourceFPMetrics, "")
	require.NoError(t, err)
	assert.True(t, ok)

	current = current.Add(2 * time.Hour)

	ok, err = s.HasConsent(ctx, "acme", contracts.ResourceFPMetrics, "")
	require.NoError(t, err)
	assert.False(t, ok, "expired record must read as absent")
}

func TestRevokeAbsentConsentIsNoop(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestConsentStore(t, now)
	assert.NoError(t, s.RevokeConsent(context.Background(), "ghost", contracts.ResourceFPMetrics, ""))
}

func TestGetConsentPrefersRepoScopeAndNewest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestConsentStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.GrantConsent(ctx, contracts.ConsentRecord{
		OrgID: "acme", Resource: contracts.ResourceFPMetrics,
		Type: contracts.ConsentExplicit, GrantedAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, s.GrantConsent(ctx, contracts.ConsentRecord{
		OrgID: "acme", RepoID: "api", Resource: contracts.ResourceFPPatterns,
		Type: contracts.ConsentExplicit, GrantedAt: now.Add(-time.Hour),
	}))

	rec, err := s.GetConsent(ctx, "acme", "api")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "api", rec.RepoID, "repo scope wins")

	rec, err = s.GetConsent(ctx, "acme", "unrelated")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Empty(t, rec.RepoID, "falls back to org scope")

	rec, err = s.GetConsent(ctx, "ghost", "")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
