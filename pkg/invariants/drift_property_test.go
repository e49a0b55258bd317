//go:build property
// +build property

package invariants

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDriftMagnitudeLaws(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	sizes := gen.Float64Range(0, 1e9)

	properties.Property("magnitude is non-negative", prop.ForAll(
		func(current, baseline float64) bool {
			return Magnitude(current, baseline) >= 0
		},
		sizes, sizes,
	))

	properties.Property("identical measurements have zero drift", prop.ForAll(
		func(v float64) bool {
			return Magnitude(v, v) == 0
		},
		sizes,
	))

	properties.Property("magnitude grows with distance from the baseline", prop.ForAll(
		func(baseline, d1, d2 float64) bool {
			near, far := math.Min(d1, d2), math.Max(d1, d2)
			return Magnitude(baseline+near, baseline) <= Magnitude(baseline+far, baseline)
		},
		sizes, gen.Float64Range(0, 1e6), gen.Float64Range(0, 1e6),
	))

	properties.Property("small baselines never divide away the distance", prop.ForAll(
		func(current float64, baseline float64) bool {
			// For baselines below 1 the divisor is clamped to 1, so the
			// magnitude equals the absolute distance.
			return Magnitude(current, baseline) == math.Abs(current-baseline)
		},
		sizes, gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
