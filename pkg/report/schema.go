package report

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// reportSchema is the wire contract for DissonanceReport, compiled once at
// package init. Unknown top-level fields are rejected so shape drift fails
// tests immediately.
const reportSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://dissonance.dev/schemas/report.json",
  "type": "object",
  "additionalProperties": false,
  "required": ["decision", "reasons", "findings", "summary", "filesAnalyzed", "mode", "requestId", "timestamp"],
  "properties": {
    "decision": {"enum": ["pass", "warn", "high", "block"]},
    "reasons": {"type": "array", "items": {"type": "string"}},
    "findings": {"type": "array", "items": {"$ref": "#/$defs/finding"}},
    "summary": {
      "type": "object",
      "additionalProperties": false,
      "required": ["rulesChecked", "violationsFound", "criticalIssues"],
      "properties": {
        "rulesChecked": {"type": "integer", "minimum": 0},
        "violationsFound": {"type": "integer", "minimum": 0},
        "criticalIssues": {"type": "integer", "minimum": 0}
      }
    },
    "filesAnalyzed": {"type": "integer", "minimum": 0},
    "mode": {"type": "string"},
    "degradedMode": {"type": "boolean"},
    "degradedReason": {"type": "string"},
    "driftMagnitude": {"type": "number", "minimum": 0},
    "baselineId": {"type": "string"},
    "requestId": {"type": "string", "format": "uuid"},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "$defs": {
    "finding": {
      "type": "object",
      "required": ["id", "ruleId", "severity", "title"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "ruleId": {"type": "string", "minLength": 1},
        "ruleName": {"type": "string"},
        "severity": {"enum": ["pass", "warn", "high", "block"]},
        "title": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "evidence": {"type": "array"},
        "remediation": {"type": "string"},
        "adrRefs": {"type": "array", "items": {"type": "string"}},
        "annotations": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    }
  }
}`

var compiledSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource("report.json", strings.NewReader(reportSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile("report.json")
}()

// Validate checks a report against the wire schema.
func Validate(r *DissonanceReport) error {
	encoded, err := r.Encode()
	if err != nil {
		return err
	}
	return ValidateBytes(encoded)
}

// ValidateBytes checks raw report JSON against the wire schema.
func ValidateBytes(data []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return contracts.WrapCoded(contracts.CodeInvalidInput, err, "parse report")
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return contracts.WrapCoded(contracts.CodeInvalidInput, err, "report shape")
	}
	return nil
}
