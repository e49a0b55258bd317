// Package manifest loads org policy manifests and evaluates their CEL
// expectations against repo governance state.
package manifest

import (
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// SupportedSchema is the semver constraint accepted for schema_version.
const SupportedSchema = "^1"

var supportedConstraint *semver.Constraints

func init() {
	c, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		panic(err)
	}
	supportedConstraint = c
}

// Load parses and validates a manifest document.
func Load(data []byte) (*contracts.PolicyManifest, error) {
	var m contracts.PolicyManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, contracts.WrapCoded(contracts.CodeInvalidInput, err, "parse policy manifest")
	}
	if err := validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFile reads and parses a manifest from disk.
func LoadFile(path string) (*contracts.PolicyManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contracts.WrapCoded(contracts.CodeInvalidInput, err, "read policy manifest %s", path)
	}
	return Load(data)
}

func validate(m *contracts.PolicyManifest) error {
	if m.OrgID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "manifest org_id is required")
	}

	v, err := semver.NewVersion(m.SchemaVersion)
	if err != nil {
		return contracts.WrapCoded(contracts.CodeInvalidInput, err, "manifest schema_version %q", m.SchemaVersion)
	}
	if !supportedConstraint.Check(v) {
		return contracts.NewCodedError(contracts.CodeInvalidInput,
			"manifest schema_version %s outside supported range %s", m.SchemaVersion, SupportedSchema)
	}

	seen := make(map[string]bool)
	for _, exp := range allExpectations(m) {
		if exp.ID == "" {
			return contracts.NewCodedError(contracts.CodeInvalidInput, "expectation without id")
		}
		if seen[exp.ID] {
			return contracts.NewCodedError(contracts.CodeInvalidInput, "duplicate expectation id %s", exp.ID)
		}
		seen[exp.ID] = true
		if exp.Expr == "" {
			return contracts.NewCodedError(contracts.CodeInvalidInput, "expectation %s has no expr", exp.ID)
		}
	}
	return nil
}

func allExpectations(m *contracts.PolicyManifest) []contracts.Expectation {
	out := make([]contracts.Expectation, 0, len(m.Defaults))
	out = append(out, m.Defaults...)
	for _, c := range m.Classifications {
		out = append(out, c.Expectations...)
	}
	return out
}
