package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// Evaluator defaults.
const (
	DefaultWorkers = 4
	DefaultTimeout = 30 * time.Second
)

// Promotion decides whether a Tier B rule has earned blocking severity.
// The oracle wires this to calibration stats; absent one, Tier B is capped.
type Promotion func(def contracts.RuleDefinition) bool

// Evaluator runs rules concurrently with per-rule isolation: a bounded
// worker pool, a deadline per rule, and panic recovery. A rule failure never
// aborts the pipeline; it becomes a synthetic blocking finding instead.
type Evaluator struct {
	workers  int
	timeout  time.Duration
	promoted Promotion
}

// NewEvaluator builds an evaluator. Non-positive workers or timeout fall
// back to the defaults.
func NewEvaluator(workers int, timeout time.Duration) *Evaluator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{workers: workers, timeout: timeout}
}

// WithPromotion installs the Tier B promotion decider.
func (e *Evaluator) WithPromotion(p Promotion) *Evaluator {
	e.promoted = p
	return e
}

// Evaluate runs the rules against the context and returns all findings in
// rule-declaration order. Within one rule, ordering is the rule's own.
func (e *Evaluator) Evaluate(ctx context.Context, ac *contracts.AnalysisContext, enabled []Registered) []contracts.Finding {
	results := make([][]contracts.Finding, len(enabled))
	sem := make(chan struct{}, e.workers)

	var wg sync.WaitGroup
	for i, reg := range enabled {
		wg.Add(1)
		go func(i int, reg Registered) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.runOne(ctx, ac, reg)
		}(i, reg)
	}
	wg.Wait()

	var findings []contracts.Finding
	for _, fs := range results {
		findings = append(findings, fs...)
	}
	return findings
}

// runOne evaluates a single rule under its own deadline, converting every
// failure mode into findings.
func (e *Evaluator) runOne(ctx context.Context, ac *contracts.AnalysisContext, reg Registered) (out []contracts.Finding) {
	defer func() {
		if rec := recover(); rec != nil {
			out = []contracts.Finding{syntheticFailure(reg.Def, contracts.CodeExecutionFailed, fmt.Sprintf("panic: %v", rec))}
		}
	}()

	ruleCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	findings, err := reg.Rule.Evaluate(ruleCtx, ac)
	if err != nil {
		code := contracts.CodeExecutionFailed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ruleCtx.Err(), context.DeadlineExceeded) {
			code = contracts.CodeTimeout
		}
		return []contracts.Finding{syntheticFailure(reg.Def, code, err.Error())}
	}
	return e.finalize(reg.Def, findings)
}

// finalize stamps rule identity onto findings that omit it and applies the
// Tier B cap: a non-promoted Tier B rule may not exceed warn.
func (e *Evaluator) finalize(def contracts.RuleDefinition, findings []contracts.Finding) []contracts.Finding {
	capped := def.Tier == contracts.RuleTierB && (e.promoted == nil || !e.promoted(def))

	out := make([]contracts.Finding, 0, len(findings))
	for _, f := range findings {
		if f.RuleID == "" {
			f.RuleID = def.ID
		}
		if f.RuleName == "" {
			f.RuleName = def.Name
		}
		if capped && f.Severity.AtLeast(contracts.SeverityHigh) {
			f = f.Demote(contracts.SeverityWarn, contracts.DemotedByTierCap)
		}
		out = append(out, f)
	}
	return out
}

// syntheticFailure is the finding emitted in place of a rule that errored,
// timed out, or panicked.
func syntheticFailure(def contracts.RuleDefinition, code contracts.Code, msg string) contracts.Finding {
	return contracts.Finding{
		ID:       def.ID + "-execution-failure",
		RuleID:   def.ID,
		RuleName: def.Name,
		Severity: contracts.SeverityBlock,
		Title:    "Rule execution failed",
		Annotations: map[string]string{
			contracts.AnnotationFailureCode:    string(code),
			contracts.AnnotationFailureMessage: msg,
		},
	}
}
