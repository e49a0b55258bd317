// Package report defines the oracle's output document: a deterministic,
// schema-validated JSON report with a derived decision, plus an optional
// signed decision token.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/dissonance/pkg/canonicalize"
	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// requestNamespace is the UUIDv5 namespace for request ids. Identical
// canonical requests map to identical ids.
var requestNamespace = uuid.MustParse("6f1c9f2e-4b7a-5a83-9d4e-2c8f0b1a7d35")

// Summary is the aggregate view over a report's findings.
type Summary struct {
	RulesChecked    int `json:"rulesChecked"`
	ViolationsFound int `json:"violationsFound"`
	CriticalIssues  int `json:"criticalIssues"`
}

// DissonanceReport is the stable output shape. Field order follows the
// documented wire layout; encoding is canonical regardless.
//
//nolint:govet // fieldalignment: field order matches the wire layout
type DissonanceReport struct {
	Decision       contracts.Severity  `json:"decision"`
	Reasons        []string            `json:"reasons"`
	Findings       []contracts.Finding `json:"findings"`
	Summary        Summary             `json:"summary"`
	FilesAnalyzed  int                 `json:"filesAnalyzed"`
	Mode           string              `json:"mode"`
	DegradedMode   bool                `json:"degradedMode,omitempty"`
	DegradedReason string              `json:"degradedReason,omitempty"`
	DriftMagnitude *float64            `json:"driftMagnitude,omitempty"`
	BaselineID     string              `json:"baselineId,omitempty"`
	RequestID      string              `json:"requestId"`
	Timestamp      time.Time           `json:"timestamp"`
}

// Encode returns the canonical bytes of the report. Identical reports yield
// byte-identical output.
func (r *DissonanceReport) Encode() ([]byte, error) {
	return canonicalize.Marshal(r)
}

// Sha256 returns the hex digest of the canonical encoding.
func (r *DissonanceReport) Sha256() (string, error) {
	b, err := r.Encode()
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes(b), nil
}

// RequestID derives the deterministic id for an analysis request from its
// canonical bytes.
func RequestID(ac *contracts.AnalysisContext) (string, error) {
	b, err := canonicalize.Marshal(ac)
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(requestNamespace, b).String(), nil
}

// Builder assembles a report from pipeline output. The decision, reasons,
// and summary are derived at Build time; callers never set them directly.
type Builder struct {
	ac             *contracts.AnalysisContext
	findings       []contracts.Finding
	rulesChecked   int
	degradedMode   bool
	degradedReason string
	drift          *float64
	baselineID     string
	clock          func() time.Time
}

// NewBuilder starts a report for the given request.
func NewBuilder(ac *contracts.AnalysisContext) *Builder {
	return &Builder{ac: ac, clock: time.Now}
}

// WithClock overrides the timestamp source for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Findings sets the evaluated findings and the number of rules that ran.
func (b *Builder) Findings(findings []contracts.Finding, rulesChecked int) *Builder {
	b.findings = findings
	b.rulesChecked = rulesChecked
	return b
}

// Degraded marks the report degraded with the given reason. The first
// reason wins; later causes do not overwrite it.
func (b *Builder) Degraded(reason string) *Builder {
	if !b.degradedMode {
		b.degradedMode = true
		b.degradedReason = reason
	}
	return b
}

// Drift records the measured drift magnitude and its baseline.
func (b *Builder) Drift(magnitude float64, baselineID string) *Builder {
	b.drift = &magnitude
	b.baselineID = baselineID
	return b
}

// Build derives the decision and assembles the final report.
func (b *Builder) Build() (*DissonanceReport, error) {
	requestID, err := RequestID(b.ac)
	if err != nil {
		return nil, err
	}

	decision := contracts.SeverityPass
	for _, f := range b.findings {
		decision = contracts.MaxSeverity(decision, f.Severity)
	}

	var reasons []string
	violations, critical := 0, 0
	for _, f := range b.findings {
		if f.Severity == decision && decision != contracts.SeverityPass {
			reasons = append(reasons, f.Title)
		}
		if f.Severity.AtLeast(contracts.SeverityWarn) {
			violations++
		}
		if f.Severity.AtLeast(contracts.SeverityHigh) {
			critical++
		}
	}
	if reasons == nil {
		reasons = []string{}
	}
	findings := b.findings
	if findings == nil {
		findings = []contracts.Finding{}
	}

	return &DissonanceReport{
		Decision: decision,
		Reasons:  reasons,
		Findings: findings,
		Summary: Summary{
			RulesChecked:    b.rulesChecked,
			ViolationsFound: violations,
			CriticalIssues:  critical,
		},
		FilesAnalyzed:  len(b.ac.Files),
		Mode:           string(b.ac.Mode),
		DegradedMode:   b.degradedMode,
		DegradedReason: b.degradedReason,
		DriftMagnitude: b.drift,
		BaselineID:     b.baselineID,
		RequestID:      requestID,
		Timestamp:      b.clock().UTC(),
	}, nil
}
