package calibration

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterByzantineDropsBottomFifth(t *testing.T) {
	samples := make([]Sample, 10)
	for i := range samples {
		samples[i] = Sample{OrgHash: fmt.Sprintf("org%d", i), Reputation: float64(i)}
	}

	kept := FilterByzantine(samples)
	require.Len(t, kept, 8)
	for _, s := range kept {
		assert.GreaterOrEqual(t, s.Reputation, 2.0, "lowest reputations are dropped")
	}
}

func TestFilterByzantineSmallSetsUntouched(t *testing.T) {
	samples := []Sample{{OrgHash: "a"}, {OrgHash: "b"}, {OrgHash: "c"}}
	assert.Len(t, FilterByzantine(samples), 3)
}

func TestFlagOutliers(t *testing.T) {
	samples := []Sample{
		{OrgHash: "a", FPR: 0.01},
		{OrgHash: "b", FPR: 0.02},
		{OrgHash: "c", FPR: 0.02},
		{OrgHash: "d", FPR: 0.03},
		{OrgHash: "e", FPR: 0.90}, // way off median
	}

	flagged := FlagOutliers(samples)
	var outliers []string
	for _, s := range flagged {
		if s.Outlier {
			outliers = append(outliers, s.OrgHash)
		}
	}
	assert.Equal(t, []string{"e"}, outliers)
}

func TestFlagOutliersZeroMAD(t *testing.T) {
	// All-identical values give MAD 0; nothing can be flagged.
	samples := []Sample{{FPR: 0.05}, {FPR: 0.05}, {FPR: 0.05}}
	for _, s := range FlagOutliers(samples) {
		assert.False(t, s.Outlier)
	}
}

func TestMeanFPR(t *testing.T) {
	assert.Zero(t, MeanFPR(nil))
	samples := []Sample{{FPR: 0.1}, {FPR: 0.2}, {FPR: 0.3}}
	assert.InDelta(t, 0.2, MeanFPR(samples), 1e-9)
}

func TestMedian(t *testing.T) {
	assert.Zero(t, median(nil))
	assert.InDelta(t, 2, median([]float64{3, 1, 2}), 1e-9)
	assert.InDelta(t, 2.5, median([]float64{4, 1, 2, 3}), 1e-9)
}
