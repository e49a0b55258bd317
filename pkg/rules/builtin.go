package rules

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/dissonance/pkg/canonicalize"
	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/manifest"
)

// Built-in rule identities.
const (
	RuleWorkflowPermissions = "MD-001"
	RuleUnpinnedActions     = "MD-002"
	RuleOrgExpectations     = "MD-003"
)

// RegisterBuiltin installs the built-in rules.
func RegisterBuiltin(r *Registry) error {
	if err := r.Register(workflowPermissionsDef(), contracts.RuleFunc(evaluateWorkflowPermissions)); err != nil {
		return err
	}
	if err := r.Register(unpinnedActionsDef(), contracts.RuleFunc(evaluateUnpinnedActions)); err != nil {
		return err
	}
	return r.Register(orgExpectationsDef(), contracts.RuleFunc(evaluateOrgExpectations))
}

func workflowPermissionsDef() contracts.RuleDefinition {
	return contracts.RuleDefinition{
		ID:              RuleWorkflowPermissions,
		Name:            "Workflow token permissions",
		Tier:            contracts.RuleTierA,
		DefaultSeverity: contracts.SeverityBlock,
		Category:        "supply-chain",
	}
}

func unpinnedActionsDef() contracts.RuleDefinition {
	return contracts.RuleDefinition{
		ID:              RuleUnpinnedActions,
		Name:            "Unpinned action references",
		Tier:            contracts.RuleTierA,
		DefaultSeverity: contracts.SeverityBlock,
		Category:        "supply-chain",
	}
}

func orgExpectationsDef() contracts.RuleDefinition {
	return contracts.RuleDefinition{
		ID:              RuleOrgExpectations,
		Name:            "Org policy expectations",
		Tier:            contracts.RuleTierA,
		DefaultSeverity: contracts.SeverityWarn,
		Category:        "cross-repo",
	}
}

// workflowDoc is the subset of a GitHub Actions workflow the built-in rules
// inspect. Permissions stay untyped: the key accepts a string or a map.
type workflowDoc struct {
	Permissions any                    `yaml:"permissions"`
	Jobs        map[string]workflowJob `yaml:"jobs"`
}

type workflowJob struct {
	Permissions any            `yaml:"permissions"`
	Steps       []workflowStep `yaml:"steps"`
}

type workflowStep struct {
	Name string `yaml:"name"`
	Uses string `yaml:"uses"`
}

func isWorkflowPath(p string) bool {
	dir, file := path.Split(p)
	if !strings.HasSuffix(dir, ".github/workflows/") && dir != ".github/workflows/" {
		return false
	}
	ext := path.Ext(file)
	return ext == ".yml" || ext == ".yaml"
}

// findingID derives a stable id from the rule and evidence location, so the
// same hit in a re-run carries the same id and FP labels stick.
func findingID(ruleID, filePath, detail string) string {
	return fmt.Sprintf("%s-%s", ruleID, canonicalize.Prefix8([]byte(filePath+"\x1f"+detail)))
}

// evaluateWorkflowPermissions flags workflows whose GITHUB_TOKEN is not
// scoped to least privilege: no permissions block anywhere, or an explicit
// write grant at the top level.
func evaluateWorkflowPermissions(ctx context.Context, ac *contracts.AnalysisContext) ([]contracts.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var findings []contracts.Finding
	for _, file := range ac.Files {
		if !isWorkflowPath(file.Path) {
			continue
		}

		var doc workflowDoc
		if err := yaml.Unmarshal([]byte(file.Content), &doc); err != nil {
			findings = append(findings, contracts.Finding{
				ID:       findingID(RuleWorkflowPermissions, file.Path, "unparseable"),
				RuleID:   RuleWorkflowPermissions,
				Severity: contracts.SeverityWarn,
				Title:    "Workflow is not valid YAML",
				Evidence: []contracts.Evidence{{Path: file.Path}},
			})
			continue
		}

		switch {
		case doc.Permissions != nil && !permissionsRestrictive(doc.Permissions):
			findings = append(findings, contracts.Finding{
				ID:          findingID(RuleWorkflowPermissions, file.Path, "write-grant"),
				RuleID:      RuleWorkflowPermissions,
				Severity:    contracts.SeverityBlock,
				Title:       "Workflow grants write token permissions",
				Description: "The workflow-level permissions block grants write access to the GITHUB_TOKEN.",
				Evidence:    []contracts.Evidence{{Path: file.Path}},
				Remediation: "Scope permissions to the minimum read grants the workflow needs.",
			})
		case doc.Permissions == nil && !allJobsScoped(doc):
			findings = append(findings, contracts.Finding{
				ID:          findingID(RuleWorkflowPermissions, file.Path, "missing"),
				RuleID:      RuleWorkflowPermissions,
				Severity:    contracts.SeverityBlock,
				Title:       "Workflow does not restrict token permissions",
				Description: "Neither the workflow nor all of its jobs declare a permissions block; the GITHUB_TOKEN defaults to broad access.",
				Evidence:    []contracts.Evidence{{Path: file.Path}},
				Remediation: "Add a least-privilege permissions block at the workflow level.",
			})
		}
	}
	return findings, nil
}

// permissionsRestrictive reports whether a permissions value grants no
// writes. The key accepts "read-all", "write-all", or a scope map.
func permissionsRestrictive(v any) bool {
	switch p := v.(type) {
	case string:
		return p == "read-all"
	case map[string]any:
		for _, grant := range p {
			s, ok := grant.(string)
			if !ok || s == "write" {
				return false
			}
		}
		return true
	}
	return false
}

func allJobsScoped(doc workflowDoc) bool {
	if len(doc.Jobs) == 0 {
		return false
	}
	for _, job := range doc.Jobs {
		if job.Permissions == nil || !permissionsRestrictive(job.Permissions) {
			return false
		}
	}
	return true
}

var commitSHA = regexp.MustCompile(`^[0-9a-f]{40}$`)

// evaluateUnpinnedActions flags third-party action references that are not
// pinned to a full commit SHA. Tags and branches are mutable; a retagged
// action runs unreviewed code with the workflow's token.
func evaluateUnpinnedActions(ctx context.Context, ac *contracts.AnalysisContext) ([]contracts.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var findings []contracts.Finding
	for _, file := range ac.Files {
		if !isWorkflowPath(file.Path) {
			continue
		}

		var doc workflowDoc
		if err := yaml.Unmarshal([]byte(file.Content), &doc); err != nil {
			continue // MD-001 reports the parse failure
		}

		for _, job := range doc.Jobs {
			for _, step := range job.Steps {
				uses := step.Uses
				if uses == "" || strings.HasPrefix(uses, "./") || strings.HasPrefix(uses, "docker://") {
					continue
				}
				ref := ""
				if at := strings.LastIndex(uses, "@"); at >= 0 {
					ref = uses[at+1:]
				}
				if commitSHA.MatchString(ref) {
					continue
				}
				findings = append(findings, contracts.Finding{
					ID:          findingID(RuleUnpinnedActions, file.Path, uses),
					RuleID:      RuleUnpinnedActions,
					Severity:    contracts.SeverityBlock,
					Title:       "Action reference is not pinned to a commit SHA",
					Description: fmt.Sprintf("Step uses %q, a mutable reference.", uses),
					Evidence:    []contracts.Evidence{{Path: file.Path, Context: map[string]any{"uses": uses}}},
					Remediation: "Pin the action to a full 40-character commit SHA.",
				})
			}
		}
	}
	return findings, nil
}

// evaluateOrgExpectations checks every neighbor repo's governance state
// against the org's policy manifest. A no-op without org context; local
// single-repo analyses carry none.
func evaluateOrgExpectations(ctx context.Context, ac *contracts.AnalysisContext) ([]contracts.Finding, error) {
	if ac.Org == nil || ac.Org.Manifest == nil || len(ac.Org.Neighbors) == 0 {
		return nil, nil
	}

	engine, err := manifest.NewEngine(ac.Org.Manifest)
	if err != nil {
		return nil, err
	}

	repos := make([]string, 0, len(ac.Org.Neighbors))
	for repo := range ac.Org.Neighbors {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	var findings []contracts.Finding
	for _, repo := range repos {
		violations, err := engine.Evaluate(ctx, repo, ac.Org.Neighbors[repo])
		if err != nil {
			return nil, err
		}
		for _, v := range violations {
			severity := contracts.Severity(v.Severity)
			if !severity.Valid() || severity == contracts.SeverityPass {
				severity = contracts.SeverityWarn
			}
			findings = append(findings, contracts.Finding{
				ID:          findingID(RuleOrgExpectations, v.Repo, v.ExpectationID),
				RuleID:      RuleOrgExpectations,
				Severity:    severity,
				Title:       "Org expectation not met: " + v.ExpectationID,
				Description: v.Description,
				Evidence:    []contracts.Evidence{{Path: v.Repo, Context: map[string]any{"expectationId": v.ExpectationID}}},
				Remediation: fmt.Sprintf("Bring %s in line with the org manifest, or record a scoped exemption.", v.Repo),
			})
		}
	}
	return findings, nil
}
