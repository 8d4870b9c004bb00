package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/CZERTAINLY/csop/internal/identity"
	"github.com/CZERTAINLY/csop/internal/model"
)

type burrowReport struct {
	Findings []json.RawMessage `json:"findings"`
}

type burrowFinding struct {
	Match string          `json:"match"`
	File  string          `json:"file"`
	Line  json.RawMessage `json:"line"` // integer, null or absent
}

func parseBurrow(_ context.Context, _ Env, in Input) ([]model.Finding, error) {
	var report burrowReport
	if err := decode(in.Data, &report); err != nil {
		return nil, err
	}

	c := newCollector(in)
	for idx, raw := range report.Findings {
		var f burrowFinding
		if err := json.Unmarshal(raw, &f); err != nil {
			c.fail(fmt.Errorf("finding %d: %w", idx, err))
			continue
		}

		location := f.File
		basis := identity.File(f.File)
		if n, ok := burrowLine(f.Line); ok {
			line := strconv.Itoa(n)
			location += ":" + line
			basis = identity.FileLine(f.File, line)
		}

		c.add(model.Finding{
			IssueType:      "secrets",
			ToolName:       "burrow",
			Title:          f.Match,
			Description:    "A potentially hardcoded secret was identified.",
			Location:       location,
			Recommendation: "Please identify whether this finding is valid; consider adding the file and line to .burrowignore if this is a false positive.",
			Severity:       model.SeverityLow,
			Raw:            raw,
		}, basis...)
	}
	return c.result()
}

// burrowLine returns the line number when it was reported as an integer.
func burrowLine(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}
