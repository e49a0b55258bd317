// Package envelope wraps oracle output for egress. Two floors apply, in
// order: the experimental cap and local degradation. They are the only
// points allowed to rewrite a decision, and both only ever lower it.
package envelope

import (
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/report"
)

// Envelope is the outermost response shape. It is immutable once built.
//
//nolint:govet // fieldalignment: field order matches the wire layout
type Envelope struct {
	Success      bool                     `json:"success"`
	Code         string                   `json:"code,omitempty"`
	Message      string                   `json:"message,omitempty"`
	IsError      bool                     `json:"isError"`
	Tier         contracts.Tier           `json:"tier"`
	Environment  contracts.Environment    `json:"environment"`
	Decision     contracts.Severity       `json:"decision"`
	DegradedMode bool                     `json:"degradedMode,omitempty"`
	RequestID    string                   `json:"requestId"`
	Timestamp    time.Time                `json:"timestamp"`
	Data         *report.DissonanceReport `json:"data,omitempty"`
}

// l0Codes are the codes stripped by the experimental cap: an experimental
// caller must not see authoritative floor verdicts.
var l0Codes = map[string]bool{
	string(contracts.CodeInvariantViolation): true,
	string(contracts.CodeConsentRequired):    true,
}

// Wrap builds the egress envelope for a report and applies the floors.
func Wrap(r *report.DissonanceReport, tier contracts.Tier, env contracts.Environment, code string) Envelope {
	if tier == "" {
		tier = contracts.TierStandard
	}

	e := Envelope{
		Success:      true,
		Code:         code,
		Tier:         tier,
		Environment:  env,
		Decision:     r.Decision,
		DegradedMode: r.DegradedMode,
		RequestID:    r.RequestID,
		Timestamp:    r.Timestamp,
		Data:         r,
	}

	// Floor 1: experimental callers never receive blocks or L0 codes.
	if tier == contracts.TierExperimental {
		if e.Decision == contracts.SeverityBlock {
			e.Decision = contracts.SeverityWarn
		}
		if l0Codes[e.Code] {
			e.Code = ""
		}
	}

	// Floor 2: authoritative decisions made locally are advisory.
	if tier == contracts.TierAuthoritative && env == contracts.EnvLocal {
		e.DegradedMode = true
		if e.Decision == contracts.SeverityBlock {
			e.Decision = contracts.SeverityWarn
		}
	}

	return e
}

// WrapError builds the egress envelope for a request that produced no
// report. Only boundary rejections take this path.
func WrapError(err error, tier contracts.Tier, env contracts.Environment) Envelope {
	if tier == "" {
		tier = contracts.TierStandard
	}
	code := string(contracts.CodeOf(err))
	e := Envelope{
		Success:     false,
		Code:        code,
		Message:     err.Error(),
		IsError:     true,
		Tier:        tier,
		Environment: env,
		Timestamp:   time.Now().UTC(),
	}
	if tier == contracts.TierExperimental && l0Codes[e.Code] {
		e.Code = ""
	}
	return e
}
