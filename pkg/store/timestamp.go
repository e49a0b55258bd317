package store

import (
	"math/rand"
	"time"
)

// RandomizeTimestamp replaces ts with a uniform point inside the batch
// window containing it. Events stay in their window while exact review
// moments never reach persistence. A window of zero disables randomization.
func RandomizeTimestamp(ts time.Time, window time.Duration, rnd *rand.Rand) time.Time {
	if window <= 0 {
		return ts
	}
	start := ts.Truncate(window)
	return start.Add(time.Duration(rnd.Int63n(int64(window))))
}
