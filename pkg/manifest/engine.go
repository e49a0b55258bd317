package manifest

import (
	"context"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// Violation is an expectation a repo's governance state fails to satisfy.
type Violation struct {
	ExpectationID string
	Description   string
	Severity      string
	Repo          string
}

// Engine evaluates a manifest's expectations. Every CEL expression is
// compiled once at construction; evaluation is cheap and concurrent-safe.
type Engine struct {
	manifest *contracts.PolicyManifest
	programs map[string]cel.Program
	clock    func() time.Time
}

// NewEngine compiles all expectations of a validated manifest. Compilation
// failures and non-boolean expressions are rejected here, not at evaluation
// time.
func NewEngine(m *contracts.PolicyManifest) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("repo", cel.StringType),
		cel.Variable("governance", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, contracts.WrapCoded(contracts.CodeInvalidInput, err, "build expectation environment")
	}

	programs := make(map[string]cel.Program)
	for _, exp := range allExpectations(m) {
		ast, issues := env.Compile(exp.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, contracts.WrapCoded(contracts.CodeInvalidInput, issues.Err(), "compile expectation %s", exp.ID)
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, contracts.NewCodedError(contracts.CodeInvalidInput,
				"expectation %s must evaluate to bool, got %s", exp.ID, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, contracts.WrapCoded(contracts.CodeInvalidInput, err, "program expectation %s", exp.ID)
		}
		programs[exp.ID] = prg
	}

	return &Engine{manifest: m, programs: programs, clock: time.Now}, nil
}

// WithClock overrides the exemption-expiry time source for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// ExpectationsFor returns the expectations applying to a repo: the defaults
// plus every matching classification, minus active exemptions.
func (e *Engine) ExpectationsFor(repo string) []contracts.Expectation {
	exempt := e.activeExemptions(repo)

	var out []contracts.Expectation
	for _, exp := range e.manifest.Defaults {
		if !exempt[exp.ID] {
			out = append(out, exp)
		}
	}
	for _, c := range e.manifest.Classifications {
		if !Match(c.Match, repo) {
			continue
		}
		for _, exp := range c.Expectations {
			if !exempt[exp.ID] {
				out = append(out, exp)
			}
		}
	}
	return out
}

// Evaluate runs the repo's applicable expectations against its governance
// state and returns the ones that fail.
func (e *Engine) Evaluate(ctx context.Context, repo string, governance contracts.GovernanceState) ([]Violation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var violations []Violation
	for _, exp := range e.ExpectationsFor(repo) {
		prg := e.programs[exp.ID]
		val, _, err := prg.ContextEval(ctx, map[string]any{
			"repo":       repo,
			"governance": map[string]any(governance),
		})
		if err != nil {
			return nil, contracts.WrapCoded(contracts.CodeInvalidInput, err, "evaluate expectation %s", exp.ID)
		}
		satisfied, ok := val.Value().(bool)
		if !ok {
			return nil, contracts.NewCodedError(contracts.CodeInvalidInput,
				"expectation %s returned non-bool %T", exp.ID, val.Value())
		}
		if !satisfied {
			violations = append(violations, Violation{
				ExpectationID: exp.ID,
				Description:   exp.Description,
				Severity:      exp.Severity,
				Repo:          repo,
			})
		}
	}
	return violations, nil
}

// activeExemptions returns the expectation ids suspended for a repo at the
// current time. Expired exemptions are ignored.
func (e *Engine) activeExemptions(repo string) map[string]bool {
	now := e.clock()
	exempt := make(map[string]bool)
	for _, ex := range e.manifest.Exemptions {
		if ex.Repo != repo {
			continue
		}
		if ex.ExpiresAt != nil && !ex.ExpiresAt.After(now) {
			continue
		}
		for _, id := range ex.ExpectationIDs {
			exempt[id] = true
		}
	}
	return exempt
}
