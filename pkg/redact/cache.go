package redact

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

// Cache freshness bounds. A snapshot older than the TTL triggers a refetch;
// a snapshot older than the stale bound is unusable even in degraded mode.
const (
	DefaultCacheTTL = 15 * time.Minute
	DefaultMaxStale = time.Hour
)

// NonceCache fronts a SecretStore with a TTL cache over the full loaded
// nonce set. On expiry it refetches; when the backend is unreachable it
// serves the prior snapshot in degraded cache-only mode until the stale
// bound, after which it fails closed.
type NonceCache struct {
	secrets  store.SecretStore
	ttl      time.Duration
	maxStale time.Duration
	clock    func() time.Time

	mu        sync.Mutex
	nonces    []contracts.Nonce
	fetchedAt time.Time
	reachable bool
}

// Snapshot is one coherent view of the loaded nonce set. Nonces are in
// ascending version order; Degraded marks a cache-only read.
type Snapshot struct {
	Nonces   []contracts.Nonce
	Degraded bool
}

// Highest returns the highest loaded version, the one new redactions use.
func (s Snapshot) Highest() (contracts.Nonce, bool) {
	if len(s.Nonces) == 0 {
		return contracts.Nonce{}, false
	}
	return s.Nonces[len(s.Nonces)-1], true
}

// NewNonceCache wraps the secret store with default freshness bounds.
func NewNonceCache(secrets store.SecretStore) *NonceCache {
	return &NonceCache{
		secrets:   secrets,
		ttl:       DefaultCacheTTL,
		maxStale:  DefaultMaxStale,
		clock:     time.Now,
		reachable: true,
	}
}

// WithTTL overrides the freshness bounds. maxStale <= ttl disables the
// degraded window entirely.
func (c *NonceCache) WithTTL(ttl, maxStale time.Duration) *NonceCache {
	c.ttl = ttl
	c.maxStale = maxStale
	return c
}

// WithClock overrides the time source for tests.
func (c *NonceCache) WithClock(clock func() time.Time) *NonceCache {
	c.clock = clock
	return c
}

// Snapshot returns the loaded nonce set, refetching when the cache has
// expired. An unreachable backend yields the cached snapshot marked degraded
// while it is younger than the stale bound, and SECRET_STORE_UNAVAILABLE
// after that.
func (c *NonceCache) Snapshot(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if len(c.nonces) > 0 && now.Sub(c.fetchedAt) <= c.ttl {
		return Snapshot{Nonces: c.nonces, Degraded: !c.reachable}, nil
	}

	nonces, err := c.fetch(ctx)
	if err == nil {
		c.nonces = nonces
		c.fetchedAt = now
		c.reachable = true
		return Snapshot{Nonces: nonces}, nil
	}

	// Backend unreachable: serve the stale snapshot while it is usable.
	c.reachable = false
	if len(c.nonces) > 0 && now.Sub(c.fetchedAt) <= c.maxStale {
		return Snapshot{Nonces: c.nonces, Degraded: true}, nil
	}
	return Snapshot{}, contracts.WrapCoded(contracts.CodeSecretStoreUnavailable, err,
		"nonce cache expired and backend unreachable")
}

// IsReachable reports the outcome of the last backend contact.
func (c *NonceCache) IsReachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}

// Invalidate drops the cached snapshot, forcing the next Snapshot call to
// hit the backend. Rotation paths call this after a write.
func (c *NonceCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces = nil
	c.fetchedAt = time.Time{}
}

// fetch loads every currently available version from the backend.
func (c *NonceCache) fetch(ctx context.Context) ([]contracts.Nonce, error) {
	versions, err := c.secrets.ListVersions(ctx)
	if err != nil {
		return nil, err
	}

	nonces := make([]contracts.Nonce, 0, len(versions))
	for _, v := range versions {
		lookup, err := c.secrets.GetNonce(ctx, v)
		if err != nil {
			return nil, err
		}
		if lookup.State != contracts.NonceLoaded {
			continue // version retired between list and get
		}
		nonces = append(nonces, *lookup.Nonce)
	}
	return nonces, nil
}
