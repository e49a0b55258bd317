package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Mindburn-Labs/dissonance/pkg/config"
	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/envelope"
	"github.com/Mindburn-Labs/dissonance/pkg/oracle"
	"github.com/Mindburn-Labs/dissonance/pkg/report"
	"github.com/Mindburn-Labs/dissonance/pkg/rules"
	"github.com/Mindburn-Labs/dissonance/pkg/store/providers"
)

// analyzeOutput is the CLI analyze payload: the egress envelope plus the
// optional decision token.
type analyzeOutput struct {
	envelope.Envelope
	Token string `json:"token,omitempty"`
}

//nolint:gocognit // linear flag-parse/build/run/print sequence
func runAnalyze(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("analyze", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		mode    string
		repo    string
		commit  string
		branch  string
		files   string
		dataDir string
		dryRun  bool
		format  string
		sign    bool
	)
	cmd.StringVar(&mode, "mode", string(contracts.ModeLocal), "Analysis mode (pull_request|merge_group|drift|local|issue)")
	cmd.StringVar(&repo, "repo", "", "Repository as owner/name (REQUIRED)")
	cmd.StringVar(&commit, "commit", "", "Commit SHA under analysis (REQUIRED)")
	cmd.StringVar(&branch, "branch", "", "Branch name")
	cmd.StringVar(&files, "files", "", "Comma-separated file paths to analyze (REQUIRED)")
	cmd.StringVar(&dataDir, "data-dir", "", "Local adapter data directory")
	cmd.BoolVar(&dryRun, "dry-run", false, "Report but always exit 0")
	cmd.StringVar(&format, "format", "json", "Output format (json|text)")
	cmd.BoolVar(&sign, "sign", false, "Attach a signed decision token (needs DISSONANCE_SIGNING_KEY)")

	if err := cmd.Parse(args); err != nil {
		return exitFatal
	}

	ac, err := buildContext(mode, repo, commit, branch, files)
	if err != nil {
		return fatal(stderr, err)
	}

	cfg := config.Load()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	ctx := context.Background()
	adapters, err := providers.New(ctx, cfg)
	if err != nil {
		return fatal(stderr, err)
	}

	registry := rules.NewRegistry()
	if err := rules.RegisterBuiltin(registry); err != nil {
		return fatal(stderr, err)
	}

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		return fatal(stderr, err)
	}
	defer deps.close(ctx)

	o, err := oracle.New(ctx, cfg, adapters, registry, deps.options()...)
	if err != nil {
		return fatal(stderr, err)
	}

	rep, err := o.Analyze(ctx, ac)
	if err != nil {
		return fatal(stderr, err)
	}

	out := analyzeOutput{
		Envelope: envelope.Wrap(rep, cfg.Tier, cfg.Environment, oracle.DecisionCode(rep)),
	}
	if sign {
		token, signErr := signReport(cfg, rep)
		if signErr != nil {
			return fatal(stderr, signErr)
		}
		out.Token = token
	}

	if err := printAnalysis(stdout, format, out); err != nil {
		return fatal(stderr, err)
	}

	if dryRun {
		return exitOK
	}
	if out.Decision == contracts.SeverityBlock {
		return exitBlock
	}
	return exitOK
}

// buildContext assembles the analysis context from flags, reading each named
// file from disk.
func buildContext(mode, repo, commit, branch, files string) (*contracts.AnalysisContext, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, contracts.NewCodedError(contracts.CodeInvalidInput, "--repo must be owner/name, got %q", repo)
	}
	if commit == "" {
		return nil, contracts.NewCodedError(contracts.CodeInvalidInput, "--commit is required")
	}
	if files == "" {
		return nil, contracts.NewCodedError(contracts.CodeInvalidInput, "--files is required")
	}

	ac := &contracts.AnalysisContext{
		Owner:     owner,
		Name:      name,
		CommitSha: commit,
		Branch:    branch,
		Mode:      contracts.Mode(mode),
	}
	for _, path := range strings.Split(files, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, contracts.WrapCoded(contracts.CodeInvalidInput, err, "read %s", path)
		}
		ac.Files = append(ac.Files, contracts.FileEntry{Path: path, Content: string(data)})
	}
	if len(ac.Files) == 0 {
		return nil, contracts.NewCodedError(contracts.CodeInvalidInput, "--files named no readable files")
	}
	return ac, nil
}

func signReport(cfg *config.Config, rep *report.DissonanceReport) (string, error) {
	if cfg.SigningKey == "" {
		return "", contracts.NewCodedError(contracts.CodeInvalidInput, "--sign needs DISSONANCE_SIGNING_KEY")
	}
	signer, err := report.NewSigner([]byte(cfg.SigningKey))
	if err != nil {
		return "", err
	}
	return signer.Sign(rep)
}

func printAnalysis(w io.Writer, format string, out analyzeOutput) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	case "text":
		rep := out.Data
		fmt.Fprintf(w, "decision: %s\n", out.Decision)
		if out.DegradedMode {
			fmt.Fprintf(w, "degraded: %s\n", rep.DegradedReason)
		}
		fmt.Fprintf(w, "rules checked: %d, files analyzed: %d\n", rep.Summary.RulesChecked, rep.FilesAnalyzed)
		for _, f := range rep.Findings {
			fmt.Fprintf(w, "  [%s] %s: %s\n", f.Severity, f.RuleID, f.Title)
			for _, ev := range f.Evidence {
				fmt.Fprintf(w, "      %s\n", ev.Path)
			}
		}
		if out.Token != "" {
			fmt.Fprintf(w, "token: %s\n", out.Token)
		}
		return nil
	default:
		return contracts.NewCodedError(contracts.CodeInvalidInput, "unknown format %q", format)
	}
}
