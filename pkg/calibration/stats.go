package calibration

import (
	"math"
	"sort"
)

// Sample is one org's contribution to a cross-org aggregate. The org is
// known only by its salted hash.
type Sample struct {
	OrgHash    string
	FPR        float64
	SampleN    int
	Reputation float64
	Outlier    bool
}

// byzantineDropFraction is the share of lowest-reputation contributors
// excluded before aggregation when filtering is on.
const byzantineDropFraction = 0.2

// madOutlierFactor flags a sample whose distance from the median exceeds
// this many MADs.
const madOutlierFactor = 3.0

// FilterByzantine drops the bottom fraction of samples by reputation. With
// five or fewer samples nothing is dropped; a filter that can erase a k-sized
// quorum would defeat the anonymity floor.
func FilterByzantine(samples []Sample) []Sample {
	drop := int(float64(len(samples)) * byzantineDropFraction)
	if drop == 0 {
		return samples
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Reputation < sorted[j].Reputation
	})
	return sorted[drop:]
}

// FlagOutliers marks samples whose FPR deviates from the median by more than
// 3 MADs. Flagged samples stay in the aggregate; the flag is advisory.
func FlagOutliers(samples []Sample) []Sample {
	if len(samples) < 3 {
		return samples
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.FPR
	}
	med := median(values)

	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	mad := median(deviations)
	if mad == 0 {
		return samples
	}

	flagged := make([]Sample, len(samples))
	copy(flagged, samples)
	for i := range flagged {
		flagged[i].Outlier = math.Abs(flagged[i].FPR-med) > madOutlierFactor*mad
	}
	return flagged
}

// MeanFPR is the unweighted mean over the samples.
func MeanFPR(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.FPR
	}
	return sum / float64(len(samples))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
