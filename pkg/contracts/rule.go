package contracts

import "context"

// RuleTier is a rule's trust level. Tier A rules may block by default;
// Tier B rules are capped at warn until they satisfy their promotion
// criteria.
type RuleTier string

const (
	RuleTierA RuleTier = "A"
	RuleTierB RuleTier = "B"
)

// FPTolerance bounds the observed false-positive rate a rule is allowed to
// sustain over a count window before demotion.
type FPTolerance struct {
	Ceiling float64 `json:"ceiling"`
	Window  int     `json:"window"`
}

// PromotionCriteria is the full set of conditions a Tier B rule must meet
// before its findings may carry severity block. All conditions are conjunctive.
type PromotionCriteria struct {
	MinWindowN        int     `json:"min_window_n"`
	MaxObservedFPR    float64 `json:"max_observed_fpr"`
	MinRedTeamCases   int     `json:"min_red_team_cases"`
	MinDaysInWarn     int     `json:"min_days_in_warn"`
	RequiredApprovers int     `json:"required_approvers"`
}

// RuleDefinition is the data half of a rule: identity, trust tier, and
// calibration bounds. The behavior half is the Rule capability.
type RuleDefinition struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Tier            RuleTier          `json:"tier"`
	DefaultSeverity Severity          `json:"default_severity"`
	Category        string            `json:"category"`
	FPTolerance     FPTolerance       `json:"fp_tolerance"`
	Promotion       PromotionCriteria `json:"promotion_criteria"`
}

// Rule is the single capability a governance rule implements. Evaluate
// receives a read-only context and returns zero or more findings; it must
// honor ctx cancellation since the evaluator bounds each rule with a
// deadline.
type Rule interface {
	Evaluate(ctx context.Context, ac *AnalysisContext) ([]Finding, error)
}

// RuleFunc adapts a plain function to the Rule capability.
type RuleFunc func(ctx context.Context, ac *AnalysisContext) ([]Finding, error)

// Evaluate implements Rule.
func (f RuleFunc) Evaluate(ctx context.Context, ac *AnalysisContext) ([]Finding, error) {
	return f(ctx, ac)
}
