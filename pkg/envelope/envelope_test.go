package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/report"
)

func blockingReport() *report.DissonanceReport {
	return &report.DissonanceReport{
		Decision:  contracts.SeverityBlock,
		Reasons:   []string{"invariant failed"},
		RequestID: "req-1",
		Timestamp: time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestExperimentalCapRewritesBlock(t *testing.T) {
	e := Wrap(blockingReport(), contracts.TierExperimental, contracts.EnvCloud,
		string(contracts.CodeInvariantViolation))

	assert.Equal(t, contracts.SeverityWarn, e.Decision)
	assert.Empty(t, e.Code, "L0 codes are stripped for experimental callers")
	assert.Equal(t, contracts.TierExperimental, e.Tier)
	assert.False(t, e.DegradedMode)
}

func TestExperimentalCapStripsConsentCode(t *testing.T) {
	e := Wrap(blockingReport(), contracts.TierExperimental, contracts.EnvCloud,
		string(contracts.CodeConsentRequired))
	assert.Empty(t, e.Code)
}

func TestExperimentalCapKeepsOtherCodes(t *testing.T) {
	e := Wrap(blockingReport(), contracts.TierExperimental, contracts.EnvCloud,
		string(contracts.CodeRateLimited))
	assert.Equal(t, string(contracts.CodeRateLimited), e.Code)
}

func TestLocalDegradationForAuthoritative(t *testing.T) {
	e := Wrap(blockingReport(), contracts.TierAuthoritative, contracts.EnvLocal, "")

	assert.Equal(t, contracts.SeverityWarn, e.Decision)
	assert.True(t, e.DegradedMode)
}

func TestAuthoritativeInCloudBlocks(t *testing.T) {
	e := Wrap(blockingReport(), contracts.TierAuthoritative, contracts.EnvCloud,
		string(contracts.CodeInvariantViolation))

	assert.Equal(t, contracts.SeverityBlock, e.Decision)
	assert.Equal(t, string(contracts.CodeInvariantViolation), e.Code)
	assert.False(t, e.DegradedMode)
}

func TestStandardTierPassesThrough(t *testing.T) {
	e := Wrap(blockingReport(), contracts.TierStandard, contracts.EnvCI, "")
	assert.Equal(t, contracts.SeverityBlock, e.Decision)
}

func TestZeroTierDefaultsToStandard(t *testing.T) {
	e := Wrap(blockingReport(), "", contracts.EnvCI, "")
	assert.Equal(t, contracts.TierStandard, e.Tier)
	assert.Equal(t, contracts.SeverityBlock, e.Decision)
}

func TestWrapCarriesReportIdentity(t *testing.T) {
	r := blockingReport()
	e := Wrap(r, contracts.TierStandard, contracts.EnvCI, "")
	assert.Equal(t, r.RequestID, e.RequestID)
	assert.Equal(t, r.Timestamp, e.Timestamp)
	assert.Same(t, r, e.Data)
	assert.True(t, e.Success)
	assert.False(t, e.IsError)
}

func TestWrapErrorBoundaryRejection(t *testing.T) {
	err := contracts.NewCodedError(contracts.CodeInvalidInput, "mode is required")
	e := WrapError(err, contracts.TierStandard, contracts.EnvLocal)

	assert.False(t, e.Success)
	assert.True(t, e.IsError)
	assert.Equal(t, string(contracts.CodeInvalidInput), e.Code)
	assert.Contains(t, e.Message, "mode is required")
	assert.Nil(t, e.Data)
}
