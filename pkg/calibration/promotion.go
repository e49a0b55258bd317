// Package calibration turns labeled FP events into rule trust decisions:
// windowed FP rates, promotion/demotion arithmetic for Tier B rules, and
// k-anonymous cross-org aggregation.
package calibration

import (
	"fmt"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// PromotionStats is the observed evidence a Tier B rule presents for
// promotion. WarnStart is when the rule last entered warn; zero means it
// never ran in warn.
type PromotionStats struct {
	WindowSize    int
	ObservedFPR   float64
	WarnStart     time.Time
	RedTeamCases  int
	ApproverCount int
}

// EligibleForBlock decides whether a Tier B rule has earned blocking
// severity. Every criterion is conjunctive; the returned reason names the
// first unmet one. Tier A rules are always eligible.
func EligibleForBlock(def contracts.RuleDefinition, stats PromotionStats, now time.Time) (bool, string) {
	if def.Tier == contracts.RuleTierA {
		return true, ""
	}

	criteria := def.Promotion
	if stats.WindowSize < criteria.MinWindowN {
		return false, fmt.Sprintf("window %d below required %d", stats.WindowSize, criteria.MinWindowN)
	}
	if stats.ObservedFPR > criteria.MaxObservedFPR {
		return false, fmt.Sprintf("observed FPR %.4f above ceiling %.4f", stats.ObservedFPR, criteria.MaxObservedFPR)
	}
	if stats.WarnStart.IsZero() {
		return false, "rule has not served in warn"
	}
	if days := int(now.Sub(stats.WarnStart).Hours() / 24); days < criteria.MinDaysInWarn {
		return false, fmt.Sprintf("%d days in warn below required %d", days, criteria.MinDaysInWarn)
	}
	if stats.RedTeamCases < criteria.MinRedTeamCases {
		return false, fmt.Sprintf("%d red-team cases below required %d", stats.RedTeamCases, criteria.MinRedTeamCases)
	}
	if criteria.RequiredApprovers > 0 && stats.ApproverCount < criteria.RequiredApprovers {
		return false, fmt.Sprintf("%d approvers below required %d", stats.ApproverCount, criteria.RequiredApprovers)
	}
	return true, ""
}

// CapSeverity clamps a finding's severity for a rule that is not eligible to
// block. Severities at or below warn pass through.
func CapSeverity(s contracts.Severity, eligible bool) contracts.Severity {
	if eligible || !s.AtLeast(contracts.SeverityHigh) {
		return s
	}
	return contracts.SeverityWarn
}
