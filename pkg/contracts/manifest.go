package contracts

import "time"

// Expectation is one governance requirement an org places on matching repos.
// Expr is a CEL expression over the variables `repo` and `governance`; the
// manifest engine compiles and evaluates it.
type Expectation struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Expr        string `json:"expr" yaml:"expr"`
	Severity    string `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// Classification binds a repo glob to a set of expectations.
type Classification struct {
	Match        string        `json:"match" yaml:"match"`
	Expectations []Expectation `json:"expectations" yaml:"expectations"`
}

// Exemption suspends named expectations for one repo until it expires.
type Exemption struct {
	Repo           string     `json:"repo" yaml:"repo"`
	ExpectationIDs []string   `json:"expectation_ids" yaml:"expectation_ids"`
	Reason         string     `json:"reason" yaml:"reason"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// PolicyManifest is the org-level policy document for cross-repo evaluation.
// SchemaVersion is semver and gated against the supported constraint at load
// time.
type PolicyManifest struct {
	SchemaVersion   string           `json:"schema_version" yaml:"schema_version"`
	OrgID           string           `json:"org_id" yaml:"org_id"`
	Defaults        []Expectation    `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Classifications []Classification `json:"classifications,omitempty" yaml:"classifications,omitempty"`
	Exemptions      []Exemption      `json:"exemptions,omitempty" yaml:"exemptions,omitempty"`
}
