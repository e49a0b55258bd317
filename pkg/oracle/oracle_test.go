package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dissonance/pkg/calibration"
	"github.com/Mindburn-Labs/dissonance/pkg/config"
	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/invariants"
	"github.com/Mindburn-Labs/dissonance/pkg/ratelimit"
	"github.com/Mindburn-Labs/dissonance/pkg/report"
	"github.com/Mindburn-Labs/dissonance/pkg/rules"
	"github.com/Mindburn-Labs/dissonance/pkg/store/providers"
)

const cleanWorkflow = `
name: ci
on: push
permissions:
  contents: read
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@8f4b7f84864484a7bf31766abe9204da3cbe65b3
      - run: make test
`

const unpinnedWorkflow = `
name: ci
on: push
permissions:
  contents: read
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
`

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func newTestOracle(t *testing.T, cfg *config.Config, opts ...Option) *Oracle {
	t.Helper()
	ctx := context.Background()

	adapters, err := providers.New(ctx, cfg)
	require.NoError(t, err)

	registry := rules.NewRegistry()
	require.NoError(t, rules.RegisterBuiltin(registry))

	o, err := New(ctx, cfg, adapters, registry, opts...)
	require.NoError(t, err)
	return o
}

func prContext(workflow string) *contracts.AnalysisContext {
	return &contracts.AnalysisContext{
		Owner:     "acme",
		Name:      "svc",
		CommitSha: "0123456789abcdef0123456789abcdef01234567",
		Mode:      contracts.ModePullRequest,
		Files:     []contracts.FileEntry{{Path: ".github/workflows/ci.yml", Content: workflow}},
	}
}

func TestAnalyzeCleanPRPasses(t *testing.T) {
	o := newTestOracle(t, localConfig(t))

	rep, err := o.Analyze(context.Background(), prContext(cleanWorkflow))
	require.NoError(t, err)

	assert.Equal(t, contracts.SeverityPass, rep.Decision)
	assert.Empty(t, rep.Findings)
	assert.Equal(t, 1, rep.FilesAnalyzed)
	assert.Equal(t, 3, rep.Summary.RulesChecked)
	assert.False(t, rep.DegradedMode)
	assert.NoError(t, report.Validate(rep))
}

func TestAnalyzeFPLabelDemotesOnRerun(t *testing.T) {
	cfg := localConfig(t)
	o := newTestOracle(t, cfg)
	ctx := context.Background()

	first, err := o.Analyze(ctx, prContext(unpinnedWorkflow))
	require.NoError(t, err)
	require.Equal(t, contracts.SeverityBlock, first.Decision)
	require.Len(t, first.Findings, 1)
	findingID := first.Findings[0].ID

	require.NoError(t, o.adapters.FP.MarkFalsePositive(ctx, findingID, "r", "T-1"))

	second, err := o.Analyze(ctx, prContext(unpinnedWorkflow))
	require.NoError(t, err)
	require.Len(t, second.Findings, 1)

	demoted := second.Findings[0]
	assert.Equal(t, findingID, demoted.ID, "rerun produces the same finding id")
	assert.Equal(t, contracts.SeverityWarn, demoted.Severity)
	assert.Equal(t, contracts.DemotedByFPLabel, demoted.Annotations[contracts.AnnotationDemotedBy])
	assert.Equal(t, contracts.SeverityWarn, second.Decision)
}

func TestAnalyzeCircuitBreakerTrips(t *testing.T) {
	cfg := localConfig(t)
	cfg.BlockThreshold = 2
	o := newTestOracle(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rep, err := o.Analyze(ctx, prContext(unpinnedWorkflow))
		require.NoError(t, err)
		assert.Equal(t, contracts.SeverityBlock, rep.Decision, "run %d", i+1)
		assert.False(t, rep.DegradedMode, "run %d", i+1)
	}

	third, err := o.Analyze(ctx, prContext(unpinnedWorkflow))
	require.NoError(t, err)
	assert.Equal(t, contracts.SeverityWarn, third.Decision)
	assert.True(t, third.DegradedMode)
	assert.Equal(t, ReasonCircuitBreakerTriggered, third.DegradedReason)
	require.Len(t, third.Findings, 1)
	assert.Equal(t, contracts.DemotedByCircuitBreaker, third.Findings[0].Annotations[contracts.AnnotationDemotedBy])
}

func TestAnalyzeRejectsInvalidInput(t *testing.T) {
	o := newTestOracle(t, localConfig(t))
	ctx := context.Background()

	_, err := o.Analyze(ctx, nil)
	assert.True(t, contracts.IsCode(err, contracts.CodeInvalidInput))

	_, err = o.Analyze(ctx, &contracts.AnalysisContext{Owner: "a", Name: "b", CommitSha: "c", Mode: "streaming"})
	assert.True(t, contracts.IsCode(err, contracts.CodeInvalidInput))

	_, err = o.Analyze(ctx, &contracts.AnalysisContext{Mode: contracts.ModeLocal})
	assert.True(t, contracts.IsCode(err, contracts.CodeInvalidInput))
}

func TestAnalyzeAuthoritativeL0ShortCircuits(t *testing.T) {
	o := newTestOracle(t, localConfig(t))

	ac := prContext(unpinnedWorkflow)
	ac.Tier = contracts.TierAuthoritative

	declared := &invariants.Input{
		ExpectedSchema:   ContextSchemaPrefix(),
		SchemaHashPrefix: "deadbeef", // wrong schema identity
		NonceIssuedAt:    time.Now(),
		Contraction:      invariants.Contraction{WitnessEvents: invariants.DefaultMinWitnessEvents},
	}

	rep, err := o.AnalyzeRequest(context.Background(), Request{Context: ac, Declared: declared})
	require.NoError(t, err)

	assert.Equal(t, contracts.SeverityBlock, rep.Decision)
	assert.Equal(t, 0, rep.Summary.RulesChecked, "rule evaluation is skipped")
	require.NotEmpty(t, rep.Findings)
	assert.Equal(t, "L0", rep.Findings[0].RuleID)
	assert.Equal(t, string(contracts.CodeInvariantViolation), DecisionCode(rep))
}

func TestAnalyzeAdvisoryL0Warns(t *testing.T) {
	o := newTestOracle(t, localConfig(t))

	ac := prContext(cleanWorkflow) // standard tier
	declared := &invariants.Input{
		ExpectedSchema:   ContextSchemaPrefix(),
		SchemaHashPrefix: "deadbeef",
		NonceIssuedAt:    time.Now(),
		Contraction:      invariants.Contraction{WitnessEvents: invariants.DefaultMinWitnessEvents},
	}

	rep, err := o.AnalyzeRequest(context.Background(), Request{Context: ac, Declared: declared})
	require.NoError(t, err)

	assert.Equal(t, contracts.SeverityWarn, rep.Decision)
	assert.Equal(t, 3, rep.Summary.RulesChecked, "advisory violations do not stop evaluation")
}

func TestAnalyzeDeclaredDriftEchoedInReport(t *testing.T) {
	o := newTestOracle(t, localConfig(t))

	declared := &invariants.Input{
		ExpectedSchema:   ContextSchemaPrefix(),
		SchemaHashPrefix: ContextSchemaPrefix(),
		NonceIssuedAt:    time.Now(),
		DriftCurrent:     110,
		DriftBaseline:    100,
		Contraction:      invariants.Contraction{WitnessEvents: invariants.DefaultMinWitnessEvents},
	}

	rep, err := o.AnalyzeRequest(context.Background(), Request{
		Context:    prContext(cleanWorkflow),
		Declared:   declared,
		BaselineID: "baseline-7",
	})
	require.NoError(t, err)

	require.NotNil(t, rep.DriftMagnitude)
	assert.InDelta(t, 0.1, *rep.DriftMagnitude, 1e-9)
	assert.Equal(t, "baseline-7", rep.BaselineID)
	assert.Equal(t, contracts.SeverityPass, rep.Decision)
}

func TestAnalyzeRateLimited(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter(1, 1)
	t.Cleanup(limiter.Close)
	o := newTestOracle(t, localConfig(t), WithLimiter(limiter))
	ctx := context.Background()

	_, err := o.Analyze(ctx, prContext(cleanWorkflow))
	require.NoError(t, err)

	_, err = o.Analyze(ctx, prContext(cleanWorkflow))
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeRateLimited))
}

func TestAnalyzeNormalizesFileContents(t *testing.T) {
	o := newTestOracle(t, localConfig(t))

	// Decomposed and precomposed spellings of the same name must hash to
	// the same request and findings.
	composed := prContext(cleanWorkflow)
	composed.Files = append(composed.Files, contracts.FileEntry{Path: "docs/notes.md", Content: "caf\u00e9"})
	decomposed := prContext(cleanWorkflow)
	decomposed.Files = append(decomposed.Files, contracts.FileEntry{Path: "docs/notes.md", Content: "cafe\u0301"})

	r1, err := o.Analyze(context.Background(), composed)
	require.NoError(t, err)
	r2, err := o.Analyze(context.Background(), decomposed)
	require.NoError(t, err)

	assert.Equal(t, r1.Decision, r2.Decision)
	assert.Equal(t, r1.FilesAnalyzed, r2.FilesAnalyzed)
}

func alwaysPromote(_ context.Context, _ contracts.RuleDefinition) (calibration.PromotionStats, bool) {
	return calibration.PromotionStats{}, true
}

func TestAnalyzeConsentRequiredBlocksAuthoritative(t *testing.T) {
	o := newTestOracle(t, localConfig(t), WithPromotionSource(alwaysPromote))

	ac := prContext(cleanWorkflow)
	ac.Tier = contracts.TierAuthoritative
	ac.Org = &contracts.OrgContext{OrgID: "org-1"}

	rep, err := o.Analyze(context.Background(), ac)
	require.NoError(t, err)

	assert.Equal(t, contracts.SeverityBlock, rep.Decision)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, "CONSENT", rep.Findings[0].RuleID)
	assert.Equal(t, string(contracts.CodeConsentRequired), DecisionCode(rep))
}

func TestAnalyzeWithoutConsentCapsSilentlyInStandardTier(t *testing.T) {
	o := newTestOracle(t, localConfig(t), WithPromotionSource(alwaysPromote))

	ac := prContext(cleanWorkflow)
	ac.Org = &contracts.OrgContext{OrgID: "org-1"}

	rep, err := o.Analyze(context.Background(), ac)
	require.NoError(t, err)
	assert.Equal(t, contracts.SeverityPass, rep.Decision)
	assert.Empty(t, rep.Findings)
}

func TestAnalyzeGrantedConsentClearsTheGate(t *testing.T) {
	o := newTestOracle(t, localConfig(t), WithPromotionSource(alwaysPromote))
	ctx := context.Background()

	require.NoError(t, o.adapters.Consent.GrantConsent(ctx, contracts.ConsentRecord{
		OrgID:     "org-1",
		Resource:  contracts.ResourceFPMetrics,
		Type:      contracts.ConsentExplicit,
		GrantedAt: time.Now(),
		Grantor:   "admin",
	}))

	ac := prContext(cleanWorkflow)
	ac.Tier = contracts.TierAuthoritative
	ac.Org = &contracts.OrgContext{OrgID: "org-1"}

	rep, err := o.Analyze(ctx, ac)
	require.NoError(t, err)
	assert.Equal(t, contracts.SeverityPass, rep.Decision)
}

func TestAnalyzeNeverReturnsEmptyReport(t *testing.T) {
	o := newTestOracle(t, localConfig(t))

	rep, err := o.Analyze(context.Background(), prContext(unpinnedWorkflow))
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RequestID)
	assert.NotEmpty(t, rep.Reasons, "blocking decisions enumerate at least one reason")
	assert.NotNil(t, rep.Findings)
}
