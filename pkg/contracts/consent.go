package contracts

import "time"

// Resource enumerates the consent-gated data classes.
type Resource string

const (
	ResourceFPPatterns Resource = "fp_patterns"
	ResourceFPMetrics  Resource = "fp_metrics"
)

// ConsentType classifies how consent was obtained.
type ConsentType string

const (
	ConsentExplicit ConsentType = "explicit"
	ConsentImplicit ConsentType = "implicit"
	ConsentNone     ConsentType = "none"
)

// ConsentState is the resolved outcome of a consent lookup.
type ConsentState string

const (
	ConsentGranted      ConsentState = "granted"
	ConsentRevoked      ConsentState = "revoked"
	ConsentExpired      ConsentState = "expired"
	ConsentNotRequested ConsentState = "not_requested"
)

// ConsentRecord scopes consent to an org or, when RepoID is set, to a single
// repo. An unexpired, unrevoked org-scope record covers every repo in the
// org unless a repo-scope record overrides it.
//
//nolint:govet // fieldalignment: order matches the persisted schema
type ConsentRecord struct {
	OrgID     string      `json:"org_id"`
	RepoID    string      `json:"repo_id,omitempty"`
	Resource  Resource    `json:"resource"`
	Type      ConsentType `json:"type"`
	GrantedAt time.Time   `json:"granted_at"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	RevokedAt *time.Time  `json:"revoked_at,omitempty"`
	Grantor   string      `json:"grantor"`
}

// Active reports whether the record grants consent at the given instant.
// Revocation and expiry are checked at read time; type none never grants.
func (r *ConsentRecord) Active(now time.Time) bool {
	if r == nil {
		return false
	}
	if r.Type != ConsentExplicit && r.Type != ConsentImplicit {
		return false
	}
	if r.RevokedAt != nil && !r.RevokedAt.After(now) {
		return false
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return false
	}
	return true
}

// StateAt resolves the record to a ConsentState at the given instant.
func (r *ConsentRecord) StateAt(now time.Time) ConsentState {
	if r == nil {
		return ConsentNotRequested
	}
	if r.RevokedAt != nil && !r.RevokedAt.After(now) {
		return ConsentRevoked
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return ConsentExpired
	}
	if r.Type == ConsentExplicit || r.Type == ConsentImplicit {
		return ConsentGranted
	}
	return ConsentNotRequested
}
