package contracts

// Mode identifies how an analysis request reached the oracle.
type Mode string

const (
	ModePullRequest Mode = "pull_request"
	ModeMergeGroup  Mode = "merge_group"
	ModeDrift       Mode = "drift"
	ModeLocal       Mode = "local"
	ModeIssue       Mode = "issue"
)

// Valid reports whether m is a known analysis mode. Unknown modes are
// rejected at the boundary with INVALID_INPUT.
func (m Mode) Valid() bool {
	switch m {
	case ModePullRequest, ModeMergeGroup, ModeDrift, ModeLocal, ModeIssue:
		return true
	}
	return false
}

// FileEntry is one file under analysis. Content may be empty for rules that
// only inspect paths.
type FileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// GovernanceState is the observable governance posture of a neighbor repo,
// as consumed by cross-repo expectations.
type GovernanceState map[string]any

// OrgContext carries the organization-level inputs for cross-repo rules:
// the policy manifest plus the governance state of neighbor repos.
type OrgContext struct {
	OrgID     string                     `json:"org_id"`
	Manifest  *PolicyManifest            `json:"manifest,omitempty"`
	Neighbors map[string]GovernanceState `json:"neighbors,omitempty"`
}

// AnalysisContext is the read-only input to rule evaluation. Rules receive a
// pointer for size, not for mutation.
//
//nolint:govet // fieldalignment: grouped by meaning
type AnalysisContext struct {
	Owner     string      `json:"owner"`
	Name      string      `json:"name"`
	CommitSha string      `json:"commitSha"`
	Branch    string      `json:"branch,omitempty"`
	Mode      Mode        `json:"mode"`
	Files     []FileEntry `json:"files"`
	Org       *OrgContext `json:"orgContext,omitempty"`
	Tier      Tier        `json:"tier,omitempty"`
}

// Repo returns the canonical owner/name identity.
func (ac *AnalysisContext) Repo() string {
	return ac.Owner + "/" + ac.Name
}
