// Package oracle runs the end-to-end analysis pipeline: validate, sanitize,
// apply the L0 floor, evaluate rules, reconcile findings against the FP and
// breaker adapters, and emit the report. Adapter failures degrade the report;
// they never suppress it.
package oracle

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/dissonance/pkg/breaker"
	"github.com/Mindburn-Labs/dissonance/pkg/calibration"
	"github.com/Mindburn-Labs/dissonance/pkg/config"
	"github.com/Mindburn-Labs/dissonance/pkg/consent"
	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/invariants"
	"github.com/Mindburn-Labs/dissonance/pkg/observability"
	"github.com/Mindburn-Labs/dissonance/pkg/ratelimit"
	"github.com/Mindburn-Labs/dissonance/pkg/redact"
	"github.com/Mindburn-Labs/dissonance/pkg/report"
	"github.com/Mindburn-Labs/dissonance/pkg/rules"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

// Degraded-mode reasons surfaced in reports.
const (
	ReasonFPStoreUnavailable      = "fp-store-unavailable"
	ReasonConsentStoreUnavailable = "consent-store-unavailable"
	ReasonBlockCounterUnavailable = "block-counter-unavailable"
	ReasonCircuitBreakerTriggered = "circuit_breaker_triggered"
)

// Floor identifiers used in findings. Neither is a registry rule.
const (
	l0RuleID      = "L0"
	consentRuleID = "CONSENT"
)

// Request is one analysis invocation. Context is required; the rest refines
// behavior.
type Request struct {
	Context *contracts.AnalysisContext

	// Actor identifies the caller for rate limiting. Empty falls back to
	// the repo identity.
	Actor string

	// Declared carries the governance metadata the L0 checks validate.
	// Nil gets a neutral input with live nonce freshness.
	Declared *invariants.Input

	// BaselineID names the drift baseline the declared input was measured
	// against, echoed into the report.
	BaselineID string
}

// PromotionSource supplies calibration stats for a Tier B rule. ok=false
// means no stats are available and the rule stays capped.
type PromotionSource func(ctx context.Context, def contracts.RuleDefinition) (calibration.PromotionStats, bool)

// Oracle is the assembled pipeline. Construct with New; the zero value is
// not usable.
type Oracle struct {
	cfg      *config.Config
	adapters *store.Adapters
	registry *rules.Registry
	breaker  *breaker.CircuitBreaker
	consents *consent.Gate
	checker  *invariants.Checker
	nonces   *redact.NonceCache
	limiter  ratelimit.Limiter
	obs      *observability.Provider
	promote  PromotionSource
	enabled  []string
	clock    func() time.Time
	logger   *slog.Logger
}

// Option customizes an Oracle.
type Option func(*Oracle)

// WithLimiter installs an ingress rate limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *Oracle) { o.limiter = l }
}

// WithPromotionSource installs the Tier B calibration source.
func WithPromotionSource(p PromotionSource) Option {
	return func(o *Oracle) { o.promote = p }
}

// WithObservability installs the telemetry provider.
func WithObservability(p *observability.Provider) Option {
	return func(o *Oracle) { o.obs = p }
}

// WithEnabledRules restricts evaluation to the named rules.
func WithEnabledRules(ids []string) Option {
	return func(o *Oracle) { o.enabled = ids }
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Oracle) { o.clock = clock }
}

// New assembles the pipeline over constructed adapters. For non-local
// providers an unreachable secret store fails here, before any request.
func New(ctx context.Context, cfg *config.Config, adapters *store.Adapters, registry *rules.Registry, opts ...Option) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if adapters == nil || registry == nil {
		return nil, contracts.NewCodedError(contracts.CodeInvalidInput, "adapters and registry are required")
	}

	if cfg.Provider != config.ProviderLocal && !adapters.Secrets.IsReachable(ctx) {
		return nil, contracts.NewCodedError(contracts.CodeSecretStoreUnavailable,
			"secret store unreachable for provider %s", cfg.Provider)
	}

	o := &Oracle{
		cfg:      cfg,
		adapters: adapters,
		registry: registry,
		breaker:  breaker.New(adapters.Blocks, cfg.BlockThreshold, cfg.BlockWindow()),
		consents: consent.NewGate(adapters.Consent),
		checker:  invariants.NewChecker(cfg.DriftThreshold, cfg.NonceMaxAge()),
		nonces:   redact.NewNonceCache(adapters.Secrets),
		clock:    time.Now,
		logger:   slog.Default().With("component", "oracle"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.obs == nil {
		p, err := observability.New(ctx, &observability.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
		o.obs = p
	}
	return o, nil
}

// Analyze runs the pipeline for a bare analysis context.
func (o *Oracle) Analyze(ctx context.Context, ac *contracts.AnalysisContext) (*report.DissonanceReport, error) {
	return o.AnalyzeRequest(ctx, Request{Context: ac})
}

// AnalyzeRequest runs the full pipeline. The only error return is a boundary
// rejection; every accepted request produces a report.
func (o *Oracle) AnalyzeRequest(ctx context.Context, req Request) (*report.DissonanceReport, error) {
	start := o.clock()
	ctx, finish := o.obs.TrackOperation(ctx, "oracle.analyze")

	rep, err := o.analyze(ctx, req)
	finish(err)
	if err != nil {
		return nil, err
	}

	o.obs.RecordAnalysis(ctx, rep.Mode, string(rep.Decision), rep.DegradedMode, o.clock().Sub(start))
	o.logger.InfoContext(ctx, "analysis complete",
		"repo", req.Context.Repo(),
		"decision", rep.Decision,
		"findings", len(rep.Findings),
		"degraded", rep.DegradedMode,
	)
	return rep, nil
}

func (o *Oracle) analyze(ctx context.Context, req Request) (*report.DissonanceReport, error) {
	ac := req.Context
	if err := validateContext(ac); err != nil {
		return nil, err
	}

	if o.limiter != nil {
		actor := req.Actor
		if actor == "" {
			actor = ac.Repo()
		}
		if err := ratelimit.Require(ctx, o.limiter, actor); err != nil {
			return nil, err
		}
	}

	sanitized := sanitizeContext(ac)
	builder := report.NewBuilder(sanitized).WithClock(o.clock)
	if req.Declared != nil {
		builder.Drift(invariants.Magnitude(req.Declared.DriftCurrent, req.Declared.DriftBaseline), req.BaselineID)
	}

	// The L0 floor runs first. Authoritative failures are the whole report;
	// advisory failures ride along as warnings.
	authoritative := sanitized.Tier == contracts.TierAuthoritative
	l0 := o.checker.ValidateAll(o.invariantInput(ctx, req))

	var carried []contracts.Finding
	if !l0.Passed {
		carried = l0Findings(&l0, authoritative)
		if authoritative {
			return builder.Findings(carried, 0).Build()
		}
	}

	return o.evaluateAndReconcile(ctx, sanitized, builder, carried)
}

// evaluateAndReconcile is pipeline steps 4-9: rules, FP demotion, breaker
// demotion, block counting, report synthesis.
func (o *Oracle) evaluateAndReconcile(ctx context.Context, ac *contracts.AnalysisContext, builder *report.Builder, carried []contracts.Finding) (*report.DissonanceReport, error) {
	enabled, err := o.registry.Enabled(o.enabled)
	if err != nil {
		return nil, err
	}

	// Evaluators are per-request: the promotion decider closes over this
	// request's context and consent resolution.
	promotion, consentFinding := o.calibrationConsent(ctx, ac, builder)
	evaluator := rules.NewEvaluator(o.cfg.Workers, o.cfg.RuleTimeout()).
		WithPromotion(promotion)
	findings := evaluator.Evaluate(ctx, ac, enabled)
	findings = append(carried, findings...)
	if consentFinding != nil {
		findings = append(findings, *consentFinding)
	}

	findings = o.demoteFalsePositives(ctx, findings, builder)
	findings = o.applyBreaker(ctx, findings, builder)
	o.countBlocks(ctx, findings, builder)

	return builder.Findings(findings, len(enabled)).Build()
}

// calibrationConsent resolves consent to consume cross-org FP metrics and
// builds the Tier B promotion decider. Absent consent leaves Tier B capped;
// in authoritative tier it is additionally a blocking CONSENT_REQUIRED
// finding, because the caller asked for calibration-backed decisions it is
// not entitled to. An unavailable consent store degrades the report and caps.
func (o *Oracle) calibrationConsent(ctx context.Context, ac *contracts.AnalysisContext, builder *report.Builder) (rules.Promotion, *contracts.Finding) {
	if o.promote == nil {
		return nil, nil
	}
	if ac.Org == nil || ac.Org.OrgID == "" {
		return nil, nil
	}

	res, err := o.consents.Check(ctx, ac.Org.OrgID, contracts.ResourceFPMetrics, ac.Repo())
	if err != nil {
		builder.Degraded(ReasonConsentStoreUnavailable)
		o.logger.WarnContext(ctx, "consent store unavailable", "org", ac.Org.OrgID, "error", err)
		return nil, nil
	}
	if !res.Granted {
		if ac.Tier != contracts.TierAuthoritative {
			return nil, nil
		}
		return nil, &contracts.Finding{
			ID:          "consent-" + string(contracts.ResourceFPMetrics),
			RuleID:      consentRuleID,
			RuleName:    "Consent gate",
			Severity:    contracts.SeverityBlock,
			Title:       "Consent required: " + string(contracts.ResourceFPMetrics),
			Description: "calibration-backed promotion consumes cross-org FP metrics, and consent is " + string(res.State),
			Annotations: map[string]string{
				contracts.AnnotationFailureCode: string(contracts.CodeConsentRequired),
			},
		}
	}

	now := o.clock()
	return func(def contracts.RuleDefinition) bool {
		stats, ok := o.promote(ctx, def)
		if !ok {
			return false
		}
		eligible, reason := calibration.EligibleForBlock(def, stats, now)
		if !eligible {
			o.logger.DebugContext(ctx, "rule not promoted", "rule", def.ID, "reason", reason)
		}
		return eligible
	}, nil
}

// demoteFalsePositives rewrites blocking findings that reviewers labeled as
// false positives. An unavailable FP store degrades the report and leaves
// severities untouched.
func (o *Oracle) demoteFalsePositives(ctx context.Context, findings []contracts.Finding, builder *report.Builder) []contracts.Finding {
	out := make([]contracts.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Severity != contracts.SeverityBlock || floorFinding(f) {
			out = append(out, f)
			continue
		}
		labeled, err := o.adapters.FP.IsFalsePositive(ctx, f.ID)
		if err != nil {
			builder.Degraded(ReasonFPStoreUnavailable)
			o.logger.WarnContext(ctx, "fp store unavailable", "finding", f.ID, "error", err)
			out = append(out, f)
			continue
		}
		if labeled {
			f = f.Demote(contracts.SeverityWarn, contracts.DemotedByFPLabel)
		}
		out = append(out, f)
	}
	return out
}

// applyBreaker demotes blocking findings for rules whose breaker is open.
func (o *Oracle) applyBreaker(ctx context.Context, findings []contracts.Finding, builder *report.Builder) []contracts.Finding {
	out := make([]contracts.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Severity != contracts.SeverityBlock || floorFinding(f) {
			out = append(out, f)
			continue
		}
		allowed, err := o.breaker.Allow(ctx, f.RuleID)
		if err != nil {
			builder.Degraded(ReasonBlockCounterUnavailable)
			o.logger.WarnContext(ctx, "block counter unavailable", "rule", f.RuleID, "error", err)
			out = append(out, f)
			continue
		}
		if !allowed {
			f = f.Demote(contracts.SeverityWarn, contracts.DemotedByCircuitBreaker)
			builder.Degraded(ReasonCircuitBreakerTriggered)
			o.obs.RecordBreakerOpen(ctx, f.RuleID)
		}
		out = append(out, f)
	}
	return out
}

// countBlocks records every finding that survived to block.
func (o *Oracle) countBlocks(ctx context.Context, findings []contracts.Finding, builder *report.Builder) {
	for _, f := range findings {
		if f.Severity != contracts.SeverityBlock || floorFinding(f) {
			continue
		}
		if err := o.breaker.RecordBlock(ctx, f.RuleID); err != nil {
			builder.Degraded(ReasonBlockCounterUnavailable)
			o.logger.WarnContext(ctx, "block counter unavailable", "rule", f.RuleID, "error", err)
		}
	}
}

// invariantInput resolves the L0 input: the request's declared metadata, or
// a neutral input whose nonce freshness still reflects the live secret
// store.
func (o *Oracle) invariantInput(ctx context.Context, req Request) invariants.Input {
	if req.Declared != nil {
		return *req.Declared
	}

	in := invariants.Input{
		ExpectedSchema:   contextSchemaPrefix,
		SchemaHashPrefix: contextSchemaPrefix,
		Contraction:      invariants.Contraction{WitnessEvents: invariants.DefaultMinWitnessEvents},
		NonceIssuedAt:    o.clock(),
	}
	if snap, err := o.nonces.Snapshot(ctx); err == nil {
		if n, ok := snap.Highest(); ok {
			in.NonceIssuedAt = n.IssuedAt
		}
	}
	return in
}

// floorFinding reports whether f came from a governance floor rather than a
// registry rule. Floors are exempt from FP and breaker reconciliation.
func floorFinding(f contracts.Finding) bool {
	return f.RuleID == l0RuleID || f.RuleID == consentRuleID
}

// l0Findings converts a failed L0 report to findings: one per violated
// check, blocking in authoritative mode and advisory otherwise.
func l0Findings(l0 *invariants.Report, authoritative bool) []contracts.Finding {
	severity := contracts.SeverityWarn
	if authoritative {
		severity = contracts.SeverityBlock
	}

	var findings []contracts.Finding
	for _, res := range l0.Results {
		if res.Passed {
			continue
		}
		findings = append(findings, contracts.Finding{
			ID:          "l0-" + strings.ToLower(string(res.ID)),
			RuleID:      l0RuleID,
			RuleName:    "Invariant floor",
			Severity:    severity,
			Title:       "Invariant violation: " + string(res.ID),
			Description: res.Detail,
			Annotations: map[string]string{
				contracts.AnnotationFailureCode: string(contracts.CodeInvariantViolation),
			},
		})
	}
	return findings
}

// DecisionCode returns the taxonomy code carried by the findings that drove
// the decision, for the envelope layer. Empty when none applies.
func DecisionCode(r *report.DissonanceReport) string {
	if r.Decision == contracts.SeverityPass {
		return ""
	}
	for _, f := range r.Findings {
		if f.Severity != r.Decision {
			continue
		}
		if code := f.Annotations[contracts.AnnotationFailureCode]; code != "" {
			return code
		}
	}
	return ""
}

// validateContext is the INVALID_INPUT boundary.
func validateContext(ac *contracts.AnalysisContext) error {
	if ac == nil {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "analysis context is required")
	}
	if !ac.Mode.Valid() {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "unknown mode %q", ac.Mode)
	}
	if ac.Owner == "" || ac.Name == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "repo owner and name are required")
	}
	if ac.CommitSha == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "commit sha is required")
	}
	return nil
}

// sanitizeContext returns a copy with file contents NFC-normalized, so rules
// never see visually-identical-but-distinct encodings.
func sanitizeContext(ac *contracts.AnalysisContext) *contracts.AnalysisContext {
	out := *ac
	out.Files = make([]contracts.FileEntry, len(ac.Files))
	for i, f := range ac.Files {
		out.Files[i] = contracts.FileEntry{Path: f.Path, Content: norm.NFC.String(f.Content)}
	}
	return &out
}
