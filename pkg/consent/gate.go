// Package consent enforces resource-scoped authorization over a ConsentStore.
// Resolution is hierarchical: an exact-repo record wins over the org record;
// neither present means not_requested. The gate keeps a small bounded cache
// that writes invalidate, so a revocation is visible on the next check.
package consent

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

// Cache bounds. Entries above the cap evict oldest-first; stale entries are
// dropped on read.
const (
	defaultCacheTTL = time.Minute
	defaultCacheCap = 1024
)

// Result is one resolved consent decision.
type Result struct {
	Granted bool
	State   contracts.ConsentState
	Record  *contracts.ConsentRecord
}

type cacheKey struct {
	orgID    string
	repoID   string
	resource contracts.Resource
}

type cacheEntry struct {
	result   Result
	cachedAt time.Time
}

// Gate answers consent questions for the oracle.
type Gate struct {
	consents store.ConsentStore
	ttl      time.Duration
	cap      int
	clock    func() time.Time

	// The cache mutex also orders write-through invalidation against reads.
	cache *lockedCache
}

// NewGate wraps the consent store with default cache bounds.
func NewGate(consents store.ConsentStore) *Gate {
	return &Gate{
		consents: consents,
		ttl:      defaultCacheTTL,
		cap:      defaultCacheCap,
		clock:    time.Now,
		cache:    newLockedCache(defaultCacheCap),
	}
}

// WithCache overrides the cache bounds. A zero ttl disables caching.
func (g *Gate) WithCache(ttl time.Duration, capacity int) *Gate {
	g.ttl = ttl
	g.cap = capacity
	g.cache = newLockedCache(capacity)
	return g
}

// WithClock overrides the time source for tests.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Check resolves consent for one (org, resource, repo) triple.
func (g *Gate) Check(ctx context.Context, orgID string, resource contracts.Resource, repoID string) (Result, error) {
	if orgID == "" {
		return Result{}, contracts.NewCodedError(contracts.CodeInvalidInput, "org id is required")
	}

	key := cacheKey{orgID: orgID, repoID: repoID, resource: resource}
	now := g.clock()
	if g.ttl > 0 {
		if entry, ok := g.cache.get(key); ok && now.Sub(entry.cachedAt) <= g.ttl {
			return entry.result, nil
		}
	}

	result, err := g.resolve(ctx, orgID, resource, repoID, now)
	if err != nil {
		return Result{}, err
	}
	if g.ttl > 0 {
		g.cache.put(key, cacheEntry{result: result, cachedAt: now})
	}
	return result, nil
}

// CheckAll is the batch form: granted only when every resource is granted.
func (g *Gate) CheckAll(ctx context.Context, orgID, repoID string, resources ...contracts.Resource) (bool, error) {
	for _, resource := range resources {
		result, err := g.Check(ctx, orgID, resource, repoID)
		if err != nil {
			return false, err
		}
		if !result.Granted {
			return false, nil
		}
	}
	return true, nil
}

// Require returns CONSENT_REQUIRED when the resource is not granted.
func (g *Gate) Require(ctx context.Context, orgID string, resource contracts.Resource, repoID string) error {
	result, err := g.Check(ctx, orgID, resource, repoID)
	if err != nil {
		return err
	}
	if !result.Granted {
		return contracts.NewCodedError(contracts.CodeConsentRequired,
			"resource %s requires consent from org %s", resource, orgID).
			WithMeta("state", string(result.State))
	}
	return nil
}

// Grant writes the record through the store and invalidates its cache line.
func (g *Gate) Grant(ctx context.Context, record contracts.ConsentRecord) error {
	if err := g.consents.GrantConsent(ctx, record); err != nil {
		return err
	}
	g.cache.invalidate(record.OrgID)
	return nil
}

// Revoke revokes at the exact scope and invalidates the org's cache lines.
func (g *Gate) Revoke(ctx context.Context, orgID string, resource contracts.Resource, repoID string) error {
	if err := g.consents.RevokeConsent(ctx, orgID, resource, repoID); err != nil {
		return err
	}
	g.cache.invalidate(orgID)
	return nil
}

// resolve consults the store, deriving the state from the most specific
// record when one exists.
func (g *Gate) resolve(ctx context.Context, orgID string, resource contracts.Resource, repoID string, now time.Time) (Result, error) {
	granted, err := g.consents.HasConsent(ctx, orgID, resource, repoID)
	if err != nil {
		return Result{}, err
	}

	record, err := g.consents.GetConsent(ctx, orgID, repoID)
	if err != nil {
		return Result{}, err
	}

	state := record.StateAt(now)
	if granted {
		state = contracts.ConsentGranted
	}
	return Result{Granted: granted, State: state, Record: record}, nil
}
