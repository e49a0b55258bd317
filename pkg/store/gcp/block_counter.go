//go:build gcp

package gcp

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

const bucketWidth = time.Hour

// BlockCounter counts blocking decisions in a Firestore collection, one
// document per rule per hour bucket. Increments use the server-side
// Increment transform, so concurrent oracles never lose counts.
type BlockCounter struct {
	client *firestore.Client
	coll   string
	clock  func() time.Time
}

type bucketDoc struct {
	RuleID    string    `firestore:"rule_id"`
	Bucket    int64     `firestore:"bucket"`
	Count     int64     `firestore:"cnt"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

// NewBlockCounter wraps a Firestore client for the given collection.
func NewBlockCounter(client *firestore.Client, coll string) *BlockCounter {
	return &BlockCounter{client: client, coll: coll, clock: time.Now}
}

// WithClock overrides the time source.
func (c *BlockCounter) WithClock(clock func() time.Time) *BlockCounter {
	c.clock = clock
	return c
}

func bucketOf(t time.Time) int64 {
	return t.Unix() / int64(bucketWidth/time.Second)
}

// Increment adds one to the current hour bucket and refreshes its expiry.
func (c *BlockCounter) Increment(ctx context.Context, ruleID string, ttl time.Duration) error {
	if ruleID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "rule id is required")
	}
	now := c.clock()
	bucket := bucketOf(now)
	id := ruleID + "#" + strconv.FormatInt(bucket, 10)

	_, err := c.client.Collection(c.coll).Doc(id).Set(ctx, map[string]interface{}{
		"rule_id":    ruleID,
		"bucket":     bucket,
		"cnt":        firestore.Increment(1),
		"expires_at": now.Add(ttl),
	}, firestore.MergeAll)
	if err != nil {
		return contracts.WrapCoded(contracts.CodeBlockCounterUnavailable, err, "increment %s", ruleID)
	}
	return nil
}

// Get sums the unexpired buckets that start inside the window.
func (c *BlockCounter) Get(ctx context.Context, ruleID string, window time.Duration) (int, error) {
	now := c.clock()
	minBucket := bucketOf(now.Add(-window))

	iter := c.client.Collection(c.coll).
		Where("rule_id", "==", ruleID).
		Where("bucket", ">=", minBucket).
		Documents(ctx)
	defer iter.Stop()

	total := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, contracts.WrapCoded(contracts.CodeBlockCounterUnavailable, err, "read counts for %s", ruleID)
		}
		var d bucketDoc
		if err := snap.DataTo(&d); err != nil {
			return 0, contracts.WrapCoded(contracts.CodeBlockCounterUnavailable, err, "decode bucket")
		}
		if !d.ExpiresAt.IsZero() && !d.ExpiresAt.After(now) {
			continue
		}
		total += int(d.Count)
	}
	return total, nil
}
