package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CZERTAINLY/csop/internal/model"
)

type semgrepReport struct {
	Results []json.RawMessage `json:"results"`
}

type semgrepResult struct {
	CheckID string `json:"check_id"`
	Path    string `json:"path"`
	Start   struct {
		Line int `json:"line"`
	} `json:"start"`
	Extra struct {
		Message  string `json:"message"`
		Severity string `json:"severity"` // INFO|WARNING|ERROR
		Lines    string `json:"lines"`
		Metadata struct {
			References []string `json:"references"`
		} `json:"metadata"`
	} `json:"extra"`
}

func parseSemgrep(_ context.Context, _ Env, in Input) ([]model.Finding, error) {
	var report semgrepReport
	if err := decode(in.Data, &report); err != nil {
		return nil, err
	}

	c := newCollector(in)
	for idx, raw := range report.Results {
		var r semgrepResult
		if err := json.Unmarshal(raw, &r); err != nil {
			c.fail(fmt.Errorf("result %d: %w", idx, err))
			continue
		}
		severity, err := semgrepSeverity(r.Extra.Severity)
		if err != nil {
			c.fail(fmt.Errorf("result %d: %s: %w", idx, r.CheckID, err))
			continue
		}

		desc := r.Extra.Message
		if r.Extra.Lines != "" {
			desc += "\n\nThe offence can be found below:\n" + r.Extra.Lines
		}
		recommendation := "Please investigate the reported file and line to confirm the nature of the issue."
		if len(r.Extra.Metadata.References) > 0 {
			recommendation += "\nMore information can be found at " + strings.Join(r.Extra.Metadata.References, ", ")
		}

		c.add(model.Finding{
			IssueType:      "code",
			ToolName:       "semgrep",
			Title:          r.CheckID,
			Description:    desc,
			Location:       filepath.ToSlash(r.Path) + ":" + strconv.Itoa(r.Start.Line),
			Recommendation: recommendation,
			Severity:       severity,
			Raw:            raw,
		})
	}
	return c.result()
}

func semgrepSeverity(s string) (model.Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return model.SeverityHigh, nil
	case "WARNING":
		return model.SeverityMedium, nil
	case "INFO":
		return model.SeverityInformational, nil
	default:
		return model.ParseSeverity(s)
	}
}
