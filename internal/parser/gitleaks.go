package parser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/CZERTAINLY/csop/internal/identity"
	"github.com/CZERTAINLY/csop/internal/model"

	"github.com/zricethezav/gitleaks/v8/report"
)

const (
	gitleaksRecommendation = "Please identify whether this finding is true or false positive."
	redacted               = "REDACTED"
)

type leak struct {
	finding report.Finding
	raw     json.RawMessage
}

// parseGitleaks accepts both a JSON array report and JSON lines, one finding per line.
func parseGitleaks(_ context.Context, env Env, in Input) ([]model.Finding, error) {
	records, err := gitleaksRecords(in.Data)
	if err != nil {
		return nil, err
	}

	c := newCollector(in)
	leaks := make([]leak, 0, len(records))
	for idx, raw := range records {
		var f report.Finding
		if err := json.Unmarshal(raw, &f); err != nil {
			c.fail(fmt.Errorf("finding %d: %w", idx, err))
			continue
		}
		redact(&f)
		b, err := json.Marshal(f)
		if err != nil {
			c.fail(fmt.Errorf("finding %d: %w", idx, err))
			continue
		}
		leaks = append(leaks, leak{finding: f, raw: b})
	}

	if env.MergeSecretsByFile {
		gitleaksByFile(c, leaks)
	} else {
		gitleaksByOffense(c, leaks)
	}
	return c.result()
}

func gitleaksRecords(data []byte) ([]json.RawMessage, error) {
	switch leading(data) {
	case 0:
		return nil, fmt.Errorf("%w: empty payload", model.ErrMalformed)
	case '[':
		var records []json.RawMessage
		if err := decode(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var records []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, fmt.Errorf("%w: line %d is not a JSON document", model.ErrMalformed, len(records)+1)
		}
		records = append(records, json.RawMessage(bytes.Clone(line)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrMalformed, err)
	}
	return records, nil
}

func gitleaksByOffense(c *collector, leaks []leak) {
	for _, l := range leaks {
		f := l.finding
		line := strconv.Itoa(f.StartLine)
		title, desc := gitleaksText(f)
		c.add(model.Finding{
			IssueType:      "secrets",
			ToolName:       "gitleaks",
			Title:          title,
			Description:    desc,
			Location:       f.File + ":" + line,
			Recommendation: gitleaksRecommendation,
			Severity:       model.SeverityLow,
			Raw:            l.raw,
		}, identity.FileLine(f.File, line)...)
	}
}

// gitleaksByFile reports one finding per file, files are in order of the first offense.
func gitleaksByFile(c *collector, leaks []leak) {
	var order []string
	groups := make(map[string][]leak)
	for _, l := range leaks {
		file := l.finding.File
		if _, ok := groups[file]; !ok {
			order = append(order, file)
		}
		groups[file] = append(groups[file], l)
	}

	for _, file := range order {
		group := groups[file]
		raws := make([]json.RawMessage, len(group))
		var desc strings.Builder
		fmt.Fprintf(&desc, "%d potential secret(s) were found in the file. Gitleaks reports them as:\n", len(group))
		for i, l := range group {
			raws[i] = l.raw
			fmt.Fprintf(&desc, "- line %d: %s\n", l.finding.StartLine, gitleaksRule(l.finding))
		}
		c.add(model.Finding{
			IssueType:      "secrets",
			ToolName:       "gitleaks",
			Title:          "Potential secrets in " + file,
			Description:    desc.String(),
			Location:       file,
			Recommendation: gitleaksRecommendation,
			Severity:       model.SeverityLow,
			Raw:            rawArray(raws),
		}, identity.File(file)...)
	}
}

func gitleaksText(f report.Finding) (title, desc string) {
	rule := gitleaksRule(f)
	for _, tag := range f.Tags {
		if strings.EqualFold(strings.TrimSpace(tag), "key") {
			return "Key match", fmt.Sprintf("A potential key was found in a file. Gitleaks reports this as %s.", an(rule))
		}
	}
	title = f.Description
	if title == "" {
		title = "Secret match"
	}
	return title, fmt.Sprintf("A potential secret was found in a file. Gitleaks reports this as %s.", an(rule))
}

func gitleaksRule(f report.Finding) string {
	if f.RuleID != "" {
		return f.RuleID
	}
	return f.Description
}

// redact removes the secret from a finding kept as raw output.
func redact(f *report.Finding) {
	if f.Secret == "" {
		return
	}
	f.Match = strings.ReplaceAll(f.Match, f.Secret, redacted)
	f.Line = strings.ReplaceAll(f.Line, f.Secret, redacted)
	f.Secret = redacted
}
