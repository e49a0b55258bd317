package contracts

import (
	"errors"
	"fmt"
)

// Code is an error kind from the oracle taxonomy. Codes classify behavior
// (degrade, reject, isolate), not Go types.
type Code string

const (
	// CodeInvalidInput is a caller error surfaced at the boundary; the only
	// code that prevents a report from being produced.
	CodeInvalidInput Code = "INVALID_INPUT"

	// Adapter unavailability. These trigger degraded mode; the report is
	// still produced.
	CodeFPStoreUnavailable      Code = "FP_STORE_UNAVAILABLE"
	CodeConsentStoreUnavailable Code = "CONSENT_STORE_UNAVAILABLE"
	CodeBlockCounterUnavailable Code = "BLOCK_COUNTER_UNAVAILABLE"
	CodeSecretStoreUnavailable  Code = "SECRET_STORE_UNAVAILABLE"

	// CodeKAnonymityNotMet refuses an aggregate query below the k floor. The
	// error carries only the distinct-org count, never identities.
	CodeKAnonymityNotMet Code = "K_ANONYMITY_NOT_MET"

	// CodeInvariantViolation is an L0 failure: an authoritative block.
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"

	// CodeConsentRequired blocks access to a gated resource without consent.
	CodeConsentRequired Code = "CONSENT_REQUIRED"

	// Rule-level failures, isolated as synthetic findings.
	CodeExecutionFailed Code = "EXECUTION_FAILED"
	CodeTimeout         Code = "TIMEOUT"

	// CodeRateLimited is transient; callers retry with backoff.
	CodeRateLimited Code = "RATE_LIMITED"
)

// CodedError attaches a taxonomy code and optional structured metadata to an
// error. Meta must stay free of identifying data for privacy-bearing codes.
type CodedError struct {
	Code    Code
	Message string
	Meta    map[string]any
	wrapped error
}

// NewCodedError builds a CodedError with a formatted message.
func NewCodedError(code Code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapCoded attaches a code to an underlying error.
func WrapCoded(code Code, err error, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// WithMeta returns the error with one metadata entry added.
func (e *CodedError) WithMeta(key string, value any) *CodedError {
	if e.Meta == nil {
		e.Meta = make(map[string]any, 1)
	}
	e.Meta[key] = value
	return e
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.wrapped
}

// CodeOf extracts the taxonomy code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
