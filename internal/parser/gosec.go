package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/CZERTAINLY/csop/internal/identity"
	"github.com/CZERTAINLY/csop/internal/model"
)

// gosecCredentialRule is the hardcoded credentials rule. Its findings are identified
// by file and line as the reported code tends to change with the secret.
const gosecCredentialRule = "G101"

type gosecReport struct {
	Issues []json.RawMessage `json:"Issues"`
}

type gosecIssue struct {
	Severity   string `json:"severity"`
	Confidence string `json:"confidence"`
	RuleID     string `json:"rule_id"`
	Details    string `json:"details"`
	File       string `json:"file"`
	Code       string `json:"code"`
	Line       string `json:"line"`
	Column     string `json:"column"`
}

func parseGosec(_ context.Context, env Env, in Input) ([]model.Finding, error) {
	var report gosecReport
	if err := decode(in.Data, &report); err != nil {
		return nil, err
	}

	c := newCollector(in)
	for idx, raw := range report.Issues {
		var issue gosecIssue
		if err := json.Unmarshal(raw, &issue); err != nil {
			c.fail(fmt.Errorf("issue %d: %w", idx, err))
			continue
		}

		severity, err := gosecSeverity(issue.Severity)
		if err != nil {
			c.fail(fmt.Errorf("issue %d: %w", idx, err))
			continue
		}

		file := relativeFile(issue.File, env.Metadata.Repository)
		rule, known := env.GosecRules.Lookup(issue.RuleID)

		var desc strings.Builder
		fmt.Fprintf(&desc, "A security issue was identified in line %s of %s. ", issue.Line, path.Base(file))
		if known {
			fmt.Fprintf(&desc, `The gosec rule_id that triggered was "%s".`, issue.RuleID)
			desc.WriteString("\n" + rule.Description)
		} else {
			fmt.Fprintf(&desc, `The gosec rule_id that triggered was "%s: %s".`, issue.RuleID, issue.Details)
		}
		desc.WriteString("\n\nThe offence can be found below:")
		if env.Metadata.Jira {
			desc.WriteString("\n{code}\n" + issue.Code + "\n{code}")
		} else {
			desc.WriteString("\n" + issue.Code)
		}

		recommendation := "Please investigate the reported file and line to confirm the nature of the issue."
		if known && rule.Recommendation != "" {
			recommendation += "\n" + rule.Recommendation
		}

		var basis []string
		if issue.RuleID == gosecCredentialRule {
			basis = identity.FileLine(file, issue.Line)
		}

		c.add(model.Finding{
			IssueType:      "code",
			ToolName:       "gosec",
			Title:          issue.Details,
			Description:    desc.String(),
			Location:       gosecLocation(env.Metadata, file, issue.Line),
			Recommendation: recommendation,
			Severity:       severity,
			Raw:            raw,
		}, basis...)
	}
	return c.result()
}

// gosecSeverity returns the severity of an issue, which is never lower than medium.
func gosecSeverity(s string) (model.Severity, error) {
	sev, err := model.ParseSeverity(s)
	if err != nil {
		return "", err
	}
	return model.SeverityMedium.Max(sev), nil
}

// relativeFile strips everything up to the repository directory as gosec
// reports absolute paths.
func relativeFile(file, repository string) string {
	if repository != "" {
		if _, after, ok := strings.Cut(file, repository+"/"); ok {
			return after
		}
	}
	return strings.TrimPrefix(file, "./")
}

func gosecLocation(md model.Metadata, file, line string) string {
	if md.RepositoryURL == "" || md.Commit == "" {
		return file + ":" + line
	}
	return fmt.Sprintf("%s/blob/%s/%s#L%s", strings.TrimSuffix(md.RepositoryURL, "/"), md.Commit, file, line)
}
