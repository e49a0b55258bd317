// Package invariants is the L0 policy floor: five pure, constant-time checks
// that run before any rule. A failure in authoritative mode is the decision;
// nothing downstream can override it.
package invariants

import (
	"fmt"
	"math"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/canonicalize"
	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// CheckID identifies one L0 invariant.
type CheckID string

const (
	// CheckSchemaHash verifies the declared schema is the expected one by
	// 8-hex-char SHA-256 prefix.
	CheckSchemaHash CheckID = "L0-001"

	// CheckPermissionBits verifies no reserved bit is set and every set bit
	// is allowed.
	CheckPermissionBits CheckID = "L0-002"

	// CheckDrift verifies relative drift from baseline stays within the
	// configured threshold.
	CheckDrift CheckID = "L0-003"

	// CheckNonceFreshness verifies the redaction nonce is young enough.
	CheckNonceFreshness CheckID = "L0-004"

	// CheckContraction verifies a declared FPR contraction is witnessed by
	// enough events and does not go the wrong direction.
	CheckContraction CheckID = "L0-005"
)

// AllChecks returns the check IDs in evaluation order.
func AllChecks() []CheckID {
	return []CheckID{CheckSchemaHash, CheckPermissionBits, CheckDrift, CheckNonceFreshness, CheckContraction}
}

// Permission bits the oracle accepts in declared workflow permissions.
// Everything outside AllowedMask is reserved.
const (
	PermContentsRead  uint32 = 1 << 0
	PermContentsWrite uint32 = 1 << 1
	PermIssuesWrite   uint32 = 1 << 2
	PermPullRequests  uint32 = 1 << 3
	PermActionsRead   uint32 = 1 << 4
	PermIDTokenWrite  uint32 = 1 << 5
	PermChecksWrite   uint32 = 1 << 6
	PermPackagesRead  uint32 = 1 << 7

	AllowedMask = PermContentsRead | PermContentsWrite | PermIssuesWrite |
		PermPullRequests | PermActionsRead | PermIDTokenWrite |
		PermChecksWrite | PermPackagesRead
	ReservedMask = ^AllowedMask
)

// DefaultMinWitnessEvents is the L0-005 witness floor.
const DefaultMinWitnessEvents = 30

// DefaultNonceMaxAge is the L0-004 freshness bound.
const DefaultNonceMaxAge = time.Hour

// Contraction is a declared FPR improvement plus its evidence.
type Contraction struct {
	FPRBefore     float64
	FPRAfter      float64
	WitnessEvents int
}

// Input carries everything the five checks look at. Hash material is
// precomputed by the caller (SchemaPrefix) so the checks stay constant time.
//
//nolint:govet // fieldalignment: grouped per check
type Input struct {
	// L0-001
	SchemaHashPrefix string
	ExpectedSchema   string

	// L0-002
	PermissionBits uint32

	// L0-003
	DriftCurrent  float64
	DriftBaseline float64

	// L0-004
	NonceIssuedAt time.Time

	// L0-005
	Contraction Contraction
}

// CheckResult is one check's outcome. Detail is empty on pass.
type CheckResult struct {
	ID     CheckID `json:"id"`
	Passed bool    `json:"passed"`
	Detail string  `json:"detail,omitempty"`
}

// Report is the outcome of running every check. Checks do not short-circuit;
// a caller sees every violated invariant at once.
type Report struct {
	Results [5]CheckResult `json:"results"`
	Passed  bool           `json:"passed"`
}

// Failed returns the IDs of the violated checks.
func (r Report) Failed() []CheckID {
	var failed []CheckID
	for _, res := range r.Results {
		if !res.Passed {
			failed = append(failed, res.ID)
		}
	}
	return failed
}

// Err converts a failed report to an INVARIANT_VIOLATION error, or nil for a
// passing one.
func (r Report) Err() error {
	if r.Passed {
		return nil
	}
	failed := r.Failed()
	ids := make([]string, len(failed))
	for i, id := range failed {
		ids[i] = string(id)
	}
	return contracts.NewCodedError(contracts.CodeInvariantViolation,
		"L0 invariants violated: %v", ids).WithMeta("checks", ids)
}

// Checker holds the configured bounds. All methods are pure; the clock is the
// only injected effect.
type Checker struct {
	driftThreshold   float64
	nonceMaxAge      time.Duration
	minWitnessEvents int
	clock            func() time.Time
}

// NewChecker returns a checker with the given drift bound and nonce age.
// Non-positive arguments fall back to the defaults.
func NewChecker(driftThreshold float64, nonceMaxAge time.Duration) *Checker {
	if driftThreshold <= 0 {
		driftThreshold = 0.3
	}
	if nonceMaxAge <= 0 {
		nonceMaxAge = DefaultNonceMaxAge
	}
	return &Checker{
		driftThreshold:   driftThreshold,
		nonceMaxAge:      nonceMaxAge,
		minWitnessEvents: DefaultMinWitnessEvents,
		clock:            time.Now,
	}
}

// WithMinWitnessEvents overrides the L0-005 witness floor.
func (c *Checker) WithMinWitnessEvents(n int) *Checker {
	c.minWitnessEvents = n
	return c
}

// WithClock overrides the time source for tests.
func (c *Checker) WithClock(clock func() time.Time) *Checker {
	c.clock = clock
	return c
}

// SchemaPrefix computes the 8-hex-char SHA-256 prefix of a schema document.
// Callers hash once and hand the prefix to Input so the check itself is a
// fixed-size compare.
func SchemaPrefix(schema []byte) string {
	return canonicalize.Prefix8(schema)
}

// ValidateAll runs all five checks and reports each.
func (c *Checker) ValidateAll(in Input) Report {
	r := Report{
		Results: [5]CheckResult{
			c.checkSchemaHash(in),
			c.checkPermissionBits(in),
			c.checkDrift(in),
			c.checkNonceFreshness(in),
			c.checkContraction(in),
		},
	}
	r.Passed = true
	for _, res := range r.Results {
		if !res.Passed {
			r.Passed = false
			break
		}
	}
	return r
}

func (c *Checker) checkSchemaHash(in Input) CheckResult {
	if in.SchemaHashPrefix == in.ExpectedSchema && in.ExpectedSchema != "" {
		return CheckResult{ID: CheckSchemaHash, Passed: true}
	}
	return CheckResult{
		ID:     CheckSchemaHash,
		Detail: fmt.Sprintf("schema prefix %q does not match expected %q", in.SchemaHashPrefix, in.ExpectedSchema),
	}
}

func (c *Checker) checkPermissionBits(in Input) CheckResult {
	if in.PermissionBits&ReservedMask == 0 && in.PermissionBits&^AllowedMask == 0 {
		return CheckResult{ID: CheckPermissionBits, Passed: true}
	}
	return CheckResult{
		ID:     CheckPermissionBits,
		Detail: fmt.Sprintf("permission bits %#x set outside allowed mask %#x", in.PermissionBits, AllowedMask),
	}
}

// checkDrift passes at exactly the threshold; the first ulp above fails.
func (c *Checker) checkDrift(in Input) CheckResult {
	magnitude := Magnitude(in.DriftCurrent, in.DriftBaseline)
	if magnitude <= c.driftThreshold {
		return CheckResult{ID: CheckDrift, Passed: true}
	}
	return CheckResult{
		ID:     CheckDrift,
		Detail: fmt.Sprintf("drift %.6f exceeds threshold %.6f", magnitude, c.driftThreshold),
	}
}

// checkNonceFreshness passes at exactly maxAge; a zero IssuedAt fails, an
// unissued nonce is not a fresh one.
func (c *Checker) checkNonceFreshness(in Input) CheckResult {
	if in.NonceIssuedAt.IsZero() {
		return CheckResult{ID: CheckNonceFreshness, Detail: "nonce has no issue time"}
	}
	age := c.clock().Sub(in.NonceIssuedAt)
	if age <= c.nonceMaxAge {
		return CheckResult{ID: CheckNonceFreshness, Passed: true}
	}
	return CheckResult{
		ID:     CheckNonceFreshness,
		Detail: fmt.Sprintf("nonce age %s exceeds max %s", age, c.nonceMaxAge),
	}
}

func (c *Checker) checkContraction(in Input) CheckResult {
	w := in.Contraction
	if w.FPRAfter > w.FPRBefore {
		return CheckResult{
			ID:     CheckContraction,
			Detail: fmt.Sprintf("declared fprAfter %.6f exceeds fprBefore %.6f", w.FPRAfter, w.FPRBefore),
		}
	}
	if w.WitnessEvents < c.minWitnessEvents {
		return CheckResult{
			ID:     CheckContraction,
			Detail: fmt.Sprintf("%d witness events below required %d", w.WitnessEvents, c.minWitnessEvents),
		}
	}
	return CheckResult{ID: CheckContraction, Passed: true}
}

// Magnitude is the relative drift |current-baseline| / max(baseline, 1).
func Magnitude(current, baseline float64) float64 {
	return math.Abs(current-baseline) / math.Max(baseline, 1)
}
