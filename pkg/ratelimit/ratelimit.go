// Package ratelimit bounds how fast each actor may submit analyses. The
// local limiter is per-process; the Redis limiter shares one token bucket
// across processes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// Limiter is the ingress admission capability.
type Limiter interface {
	// Allow reports whether the actor may proceed now.
	Allow(ctx context.Context, actor string) (bool, error)
}

// Require runs the limiter and converts denial into RATE_LIMITED.
func Require(ctx context.Context, l Limiter, actor string) error {
	allowed, err := l.Allow(ctx, actor)
	if err != nil {
		return err
	}
	if !allowed {
		return contracts.NewCodedError(contracts.CodeRateLimited, "actor %s over rate limit", actor)
	}
	return nil
}

// Stale actor entries are evicted to bound memory.
const (
	janitorInterval = time.Minute
	actorIdleExpiry = 3 * time.Minute
)

// LocalLimiter keeps one token bucket per actor in process memory.
type LocalLimiter struct {
	mu     sync.Mutex
	actors map[string]*actorEntry
	rps    rate.Limit
	burst  int
	clock  func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

type actorEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter builds a per-actor limiter and starts its janitor. Close
// stops the janitor.
func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	l := &LocalLimiter{
		actors: make(map[string]*actorEntry),
		rps:    rate.Limit(rps),
		burst:  burst,
		clock:  time.Now,
		done:   make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Allow implements Limiter. It never errors; local limiting has no backend.
func (l *LocalLimiter) Allow(_ context.Context, actor string) (bool, error) {
	return l.bucket(actor).Allow(), nil
}

func (l *LocalLimiter) bucket(actor string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.actors[actor]
	if !ok {
		e = &actorEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.actors[actor] = e
	}
	e.lastSeen = l.clock()
	return e.limiter
}

// Close stops the janitor goroutine. The limiter stays usable; only the
// background eviction stops.
func (l *LocalLimiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *LocalLimiter) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictStale()
		case <-l.done:
			return
		}
	}
}

// evictStale is one janitor pass, split out so tests can trigger it.
func (l *LocalLimiter) evictStale() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	for actor, e := range l.actors {
		if now.Sub(e.lastSeen) > actorIdleExpiry {
			delete(l.actors, actor)
		}
	}
}
