package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// bucketWidth is the counter granularity. Buckets are hour-aligned; windows
// shorter than an hour degrade to bucket granularity, losing at most one
// bucket width of precision at the TTL boundary.
const bucketWidth = time.Hour

// BlockCounter keeps one JSON file per rule holding its live buckets.
type BlockCounter struct {
	dir string
	mu  sync.Mutex

	clock func() time.Time
}

type counterFile struct {
	RuleID  string                 `json:"rule_id"`
	Buckets map[string]bucketEntry `json:"buckets"`
}

type bucketEntry struct {
	Count     int       `json:"count"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewBlockCounter creates the counter directory and returns the store.
func NewBlockCounter(dir string) (*BlockCounter, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &BlockCounter{dir: dir, clock: time.Now}, nil
}

// WithClock overrides the time source for tests.
func (s *BlockCounter) WithClock(clock func() time.Time) *BlockCounter {
	s.clock = clock
	return s
}

// Increment adds one block to the rule's current bucket and refreshes its
// TTL. Expired buckets are pruned on the same write.
func (s *BlockCounter) Increment(ctx context.Context, ruleID string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("increment blocks: %w", err)
	}
	if ruleID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "rule id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cf, err := s.load(ruleID)
	if err != nil {
		return err
	}

	pruneExpired(cf, now)
	key := bucketKey(now)
	entry := cf.Buckets[key]
	entry.Count++
	entry.ExpiresAt = now.Add(ttl)
	cf.Buckets[key] = entry

	path := filepath.Join(s.dir, counterFileName(ruleID))
	if err := writeJSONAtomic(path, cf, 0o600); err != nil {
		return contracts.WrapCoded(contracts.CodeBlockCounterUnavailable, err, "persist counter for %s", ruleID)
	}
	return nil
}

// Get sums the rule's unexpired buckets that intersect the window ending now.
func (s *BlockCounter) Get(ctx context.Context, ruleID string, window time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("read blocks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cf, err := s.load(ruleID)
	if err != nil {
		return 0, err
	}

	oldest := now.Add(-window).Truncate(bucketWidth)
	total := 0
	for key, entry := range cf.Buckets {
		if !entry.ExpiresAt.After(now) {
			continue
		}
		idx, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		bucketStart := time.Unix(idx*int64(bucketWidth/time.Second), 0)
		if bucketStart.Before(oldest) {
			continue
		}
		total += entry.Count
	}
	return total, nil
}

// load reads the rule's counter file, or an empty one when absent. Callers
// hold the mutex.
func (s *BlockCounter) load(ruleID string) (*counterFile, error) {
	path := filepath.Join(s.dir, counterFileName(ruleID))
	cf := &counterFile{RuleID: ruleID, Buckets: make(map[string]bucketEntry)}
	if err := readJSON(path, cf); err != nil && !os.IsNotExist(err) {
		return nil, contracts.WrapCoded(contracts.CodeBlockCounterUnavailable, err, "read counter for %s", ruleID)
	}
	if cf.Buckets == nil {
		cf.Buckets = make(map[string]bucketEntry)
	}
	return cf, nil
}

func pruneExpired(cf *counterFile, now time.Time) {
	for key, entry := range cf.Buckets {
		if !entry.ExpiresAt.After(now) {
			delete(cf.Buckets, key)
		}
	}
}

func bucketKey(now time.Time) string {
	return strconv.FormatInt(now.Unix()/int64(bucketWidth/time.Second), 10)
}

func counterFileName(ruleID string) string {
	return keyFile("bc", ruleID)
}
