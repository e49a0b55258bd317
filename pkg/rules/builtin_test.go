package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
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

const unscopedWorkflow = `
name: ci
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
`

const writeAllWorkflow = `
name: ci
on: push
permissions: write-all
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: make
`

func workflowContext(content string) *contracts.AnalysisContext {
	return &contracts.AnalysisContext{
		Owner: "acme", Name: "svc", CommitSha: "abc", Mode: contracts.ModePullRequest,
		Files: []contracts.FileEntry{{Path: ".github/workflows/ci.yml", Content: content}},
	}
}

func TestWorkflowPermissionsCleanPasses(t *testing.T) {
	findings, err := evaluateWorkflowPermissions(context.Background(), workflowContext(cleanWorkflow))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestWorkflowPermissionsMissingBlocks(t *testing.T) {
	findings, err := evaluateWorkflowPermissions(context.Background(), workflowContext(unscopedWorkflow))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, contracts.SeverityBlock, findings[0].Severity)
	assert.Equal(t, RuleWorkflowPermissions, findings[0].RuleID)
	assert.Equal(t, ".github/workflows/ci.yml", findings[0].Evidence[0].Path)
}

func TestWorkflowPermissionsWriteAllBlocks(t *testing.T) {
	findings, err := evaluateWorkflowPermissions(context.Background(), workflowContext(writeAllWorkflow))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Title, "write")
}

func TestWorkflowPermissionsJobLevelScopesSuffice(t *testing.T) {
	const jobScoped = `
name: ci
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    permissions:
      contents: read
    steps:
      - run: make
`
	findings, err := evaluateWorkflowPermissions(context.Background(), workflowContext(jobScoped))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestWorkflowPermissionsInvalidYAMLWarns(t *testing.T) {
	findings, err := evaluateWorkflowPermissions(context.Background(), workflowContext("jobs: [unclosed"))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, contracts.SeverityWarn, findings[0].Severity)
}

func TestWorkflowPermissionsIgnoresNonWorkflowFiles(t *testing.T) {
	ac := &contracts.AnalysisContext{
		Owner: "acme", Name: "svc", CommitSha: "abc", Mode: contracts.ModePullRequest,
		Files: []contracts.FileEntry{{Path: "docs/setup.yml", Content: unscopedWorkflow}},
	}
	findings, err := evaluateWorkflowPermissions(context.Background(), ac)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestUnpinnedActionsFlagsTags(t *testing.T) {
	findings, err := evaluateUnpinnedActions(context.Background(), workflowContext(unscopedWorkflow))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, contracts.SeverityBlock, findings[0].Severity)
	assert.Equal(t, RuleUnpinnedActions, findings[0].RuleID)
	assert.Equal(t, "actions/checkout@v4", findings[0].Evidence[0].Context["uses"])
}

func TestUnpinnedActionsAcceptsSHAPins(t *testing.T) {
	findings, err := evaluateUnpinnedActions(context.Background(), workflowContext(cleanWorkflow))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestUnpinnedActionsSkipsLocalAndDocker(t *testing.T) {
	const local = `
jobs:
  build:
    steps:
      - uses: ./local-action
      - uses: docker://alpine:3.20
`
	findings, err := evaluateUnpinnedActions(context.Background(), workflowContext(local))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestFindingIDsAreStableAcrossRuns(t *testing.T) {
	first, err := evaluateUnpinnedActions(context.Background(), workflowContext(unscopedWorkflow))
	require.NoError(t, err)
	second, err := evaluateUnpinnedActions(context.Background(), workflowContext(unscopedWorkflow))
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "FP labels key on the finding id")
}

func TestRegisterBuiltin(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltin(r))
	assert.Equal(t, 3, r.Len())

	_, ok := r.Get(RuleWorkflowPermissions)
	assert.True(t, ok)
	_, ok = r.Get(RuleUnpinnedActions)
	assert.True(t, ok)
	_, ok = r.Get(RuleOrgExpectations)
	assert.True(t, ok)
}

func orgManifest() *contracts.PolicyManifest {
	return &contracts.PolicyManifest{
		SchemaVersion: "1.0.0",
		OrgID:         "acme",
		Defaults: []contracts.Expectation{{
			ID:          "branch-protection",
			Description: "default branch requires reviews",
			Expr:        `governance["branch_protection"] == true`,
			Severity:    "high",
		}},
	}
}

func TestOrgExpectationsFlagNonCompliantNeighbors(t *testing.T) {
	ac := workflowContext(cleanWorkflow)
	ac.Org = &contracts.OrgContext{
		OrgID:    "acme",
		Manifest: orgManifest(),
		Neighbors: map[string]contracts.GovernanceState{
			"acme/api": {"branch_protection": true},
			"acme/web": {"branch_protection": false},
		},
	}

	findings, err := evaluateOrgExpectations(context.Background(), ac)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, RuleOrgExpectations, findings[0].RuleID)
	assert.Equal(t, contracts.SeverityHigh, findings[0].Severity, "expectation severity carries through")
	assert.Equal(t, "acme/web", findings[0].Evidence[0].Path)
	assert.Equal(t, "branch-protection", findings[0].Evidence[0].Context["expectationId"])
}

func TestOrgExpectationsHonorExemptions(t *testing.T) {
	m := orgManifest()
	m.Exemptions = []contracts.Exemption{{
		Repo:           "acme/web",
		ExpectationIDs: []string{"branch-protection"},
		Reason:         "migration in flight",
	}}

	ac := workflowContext(cleanWorkflow)
	ac.Org = &contracts.OrgContext{
		OrgID:    "acme",
		Manifest: m,
		Neighbors: map[string]contracts.GovernanceState{
			"acme/web": {"branch_protection": false},
		},
	}

	findings, err := evaluateOrgExpectations(context.Background(), ac)
	require.NoError(t, err)
	assert.Empty(t, findings, "exempted repos are not flagged")
}

func TestOrgExpectationsNoOrgContextIsNoop(t *testing.T) {
	findings, err := evaluateOrgExpectations(context.Background(), workflowContext(cleanWorkflow))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestOrgExpectationsDefaultUnknownSeverityToWarn(t *testing.T) {
	m := orgManifest()
	m.Defaults[0].Severity = "catastrophic"

	ac := workflowContext(cleanWorkflow)
	ac.Org = &contracts.OrgContext{
		OrgID:    "acme",
		Manifest: m,
		Neighbors: map[string]contracts.GovernanceState{
			"acme/web": {"branch_protection": false},
		},
	}

	findings, err := evaluateOrgExpectations(context.Background(), ac)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, contracts.SeverityWarn, findings[0].Severity)
}

func TestOrgExpectationFindingsAreDeterministicallyOrdered(t *testing.T) {
	ac := workflowContext(cleanWorkflow)
	ac.Org = &contracts.OrgContext{
		OrgID:    "acme",
		Manifest: orgManifest(),
		Neighbors: map[string]contracts.GovernanceState{
			"acme/zeta":  {"branch_protection": false},
			"acme/alpha": {"branch_protection": false},
			"acme/mid":   {"branch_protection": false},
		},
	}

	findings, err := evaluateOrgExpectations(context.Background(), ac)
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, "acme/alpha", findings[0].Evidence[0].Path)
	assert.Equal(t, "acme/mid", findings[1].Evidence[0].Path)
	assert.Equal(t, "acme/zeta", findings[2].Evidence[0].Path)
}
