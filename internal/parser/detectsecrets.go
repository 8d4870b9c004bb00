package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/CZERTAINLY/csop/internal/identity"
	"github.com/CZERTAINLY/csop/internal/model"
)

type detectSecretsReport struct {
	Results map[string][]json.RawMessage `json:"results"`
}

type detectSecretsResult struct {
	Type         string `json:"type"`
	LineNumber   int    `json:"line_number"`
	HashedSecret string `json:"hashed_secret"`
	IsVerified   bool   `json:"is_verified"`
}

// parseDetectSecrets reports each offense of a detect-secrets baseline. Files
// are reported in lexical order.
func parseDetectSecrets(_ context.Context, _ Env, in Input) ([]model.Finding, error) {
	var report detectSecretsReport
	if err := decode(in.Data, &report); err != nil {
		return nil, err
	}

	files := make([]string, 0, len(report.Results))
	for file := range report.Results {
		files = append(files, file)
	}
	slices.Sort(files)

	c := newCollector(in)
	for _, file := range files {
		for idx, raw := range report.Results[file] {
			var r detectSecretsResult
			if err := json.Unmarshal(raw, &r); err != nil {
				c.fail(fmt.Errorf("%s: result %d: %w", file, idx, err))
				continue
			}
			line := strconv.Itoa(r.LineNumber)
			severity := model.SeverityLow
			if r.IsVerified {
				severity = model.SeverityHigh
			}
			c.add(model.Finding{
				IssueType:      "secrets",
				ToolName:       "detect-secrets",
				Title:          r.Type,
				Description:    fmt.Sprintf("A potential secret was found in a file. Detect-secrets reports this as %s.", an(r.Type)),
				Location:       file + ":" + line,
				Recommendation: "Please identify whether this finding is true or false positive; mark false positives with detect-secrets audit.",
				Severity:       severity,
				Raw:            raw,
			}, identity.FileLine(file, line)...)
		}
	}
	return c.result()
}
