package contracts

// Evidence is one location-bound piece of support for a finding.
type Evidence struct {
	Path    string         `json:"path"`
	Line    int            `json:"line,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Finding is a single rule hit. Findings are immutable once produced; the
// orchestrator annotates demotions by copying, never by mutating a finding a
// rule returned.
//
//nolint:govet // fieldalignment: field order matches the report schema
type Finding struct {
	ID          string            `json:"id"`
	RuleID      string            `json:"ruleId"`
	RuleName    string            `json:"ruleName"`
	Severity    Severity          `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Evidence    []Evidence        `json:"evidence,omitempty"`
	Remediation string            `json:"remediation,omitempty"`
	ADRRefs     []string          `json:"adrRefs,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Annotation keys attached by the orchestrator during demotion.
const (
	AnnotationDemotedBy      = "demoted_by"
	DemotedByFPLabel         = "fp_label"
	DemotedByCircuitBreaker  = "circuit_breaker"
	DemotedByTierCap         = "tier_cap"
	DemotedByLocalEnv        = "local_environment"
	AnnotationOriginalLevel  = "original_severity"
	AnnotationFailureCode    = "failure_code"
	AnnotationFailureMessage = "failure_error"
)

// WithAnnotation returns a copy of f carrying the extra annotation.
func (f Finding) WithAnnotation(key, value string) Finding {
	annotated := f
	annotated.Annotations = make(map[string]string, len(f.Annotations)+1)
	for k, v := range f.Annotations {
		annotated.Annotations[k] = v
	}
	annotated.Annotations[key] = value
	return annotated
}

// Demote returns a copy of f lowered to the given severity with the demotion
// recorded in annotations. The original severity is preserved for audit.
func (f Finding) Demote(to Severity, by string) Finding {
	demoted := f.WithAnnotation(AnnotationDemotedBy, by)
	demoted.Annotations[AnnotationOriginalLevel] = string(f.Severity)
	demoted.Severity = to
	return demoted
}
