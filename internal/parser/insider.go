package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CZERTAINLY/csop/internal/model"
)

type insiderReport struct {
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
	SCA             []json.RawMessage `json:"sca"`
}

type insiderVulnerability struct {
	CVSS         float64 `json:"cvss"`
	LongMessage  string  `json:"longMessage"`
	ShortMessage string  `json:"shortMessage"`
	ClassMessage string  `json:"classMessage"`
	Method       string  `json:"method"`
}

type insiderDependency struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Recommendation string `json:"recomendation"` // sic
	Severity       string `json:"severity"`
	CVEs           string `json:"cves"`
}

// parseInsider reports code issues and vulnerable dependencies found by insider.
func parseInsider(_ context.Context, _ Env, in Input) ([]model.Finding, error) {
	var report insiderReport
	if err := decode(in.Data, &report); err != nil {
		return nil, err
	}

	c := newCollector(in)
	for idx, raw := range report.Vulnerabilities {
		var v insiderVulnerability
		if err := json.Unmarshal(raw, &v); err != nil {
			c.fail(fmt.Errorf("vulnerability %d: %w", idx, err))
			continue
		}

		title, rest, _ := strings.Cut(v.LongMessage, ". ")
		desc := rest + "\n"
		desc += "\nAn example of the offending code can be seen below:\n" + v.Method
		location, _, _ := strings.Cut(v.ClassMessage, " (")

		c.add(model.Finding{
			IssueType:      "code",
			ToolName:       "insider",
			Title:          title,
			Description:    desc,
			Location:       location,
			Recommendation: v.ShortMessage,
			Severity:       model.CVSSBand(v.CVSS),
			Raw:            raw,
		})
	}

	for idx, raw := range report.SCA {
		var d insiderDependency
		if err := json.Unmarshal(raw, &d); err != nil {
			c.fail(fmt.Errorf("dependency %d: %w", idx, err))
			continue
		}

		location := d.Title
		if _, after, ok := strings.Cut(d.Title, " - "); ok {
			location = after
		}

		c.add(model.Finding{
			IssueType:      "dependencies",
			ToolName:       "insider",
			Title:          d.Title,
			Description:    d.Description,
			Location:       location,
			Recommendation: d.Recommendation,
			Severity:       insiderSeverity(d.Severity),
			CVE:            strings.TrimSpace(d.CVEs),
			Raw:            raw,
		})
	}
	return c.result()
}

func insiderSeverity(s string) model.Severity {
	if strings.EqualFold(strings.TrimSpace(s), "moderate") {
		return model.SeverityMedium
	}
	return model.Severity(s)
}
