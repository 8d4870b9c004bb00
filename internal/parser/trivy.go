package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CZERTAINLY/csop/internal/model"
)

type trivyReport struct {
	Results []trivyResult `json:"Results"`
}

type trivyResult struct {
	Target          string            `json:"Target"`
	Vulnerabilities []json.RawMessage `json:"Vulnerabilities"`
}

type trivyVulnerability struct {
	VulnerabilityID  string `json:"VulnerabilityID"`
	PkgName          string `json:"PkgName"`
	InstalledVersion string `json:"InstalledVersion"`
	FixedVersion     string `json:"FixedVersion"`
	Severity         string `json:"Severity"`
	Title            string `json:"Title"`
	Description      string `json:"Description"`
}

type trivyGroup struct {
	target   string
	pkg      string
	version  string
	fixed    string
	severity model.Severity
	lines    []string
	cves     []string
	raws     []json.RawMessage
	err      error
}

// parseTrivy accepts the legacy output (an array of results) and the current
// one (an object with Results). Vulnerabilities are grouped per target and package.
func parseTrivy(_ context.Context, _ Env, in Input) ([]model.Finding, error) {
	var results []trivyResult
	switch leading(in.Data) {
	case '[':
		if err := decode(in.Data, &results); err != nil {
			return nil, err
		}
	default:
		var report trivyReport
		if err := decode(in.Data, &report); err != nil {
			return nil, err
		}
		results = report.Results
	}

	c := newCollector(in)
	var order []*trivyGroup
	groups := make(map[[2]string]*trivyGroup)
	for _, result := range results {
		for idx, raw := range result.Vulnerabilities {
			var v trivyVulnerability
			if err := json.Unmarshal(raw, &v); err != nil {
				c.fail(fmt.Errorf("target %s: vulnerability %d: %w", result.Target, idx, err))
				continue
			}

			key := [2]string{result.Target, v.PkgName}
			g, ok := groups[key]
			if !ok {
				g = &trivyGroup{target: result.Target, pkg: v.PkgName, version: v.InstalledVersion}
				groups[key] = g
				order = append(order, g)
			}
			g.raws = append(g.raws, raw)
			if g.fixed == "" {
				g.fixed = v.FixedVersion
			}

			sev, err := trivySeverity(v.Severity)
			if err != nil && g.err == nil {
				g.err = fmt.Errorf("target %s: package %s: vulnerability %s: %w", result.Target, v.PkgName, v.VulnerabilityID, err)
			}
			g.severity = g.severity.Max(sev)

			text := v.Description
			if text == "" {
				text = v.Title
			}
			g.lines = appendUnique(g.lines, fmt.Sprintf("- %s (%s) - %s", v.VulnerabilityID, sev.Title(), text))
			if strings.HasPrefix(v.VulnerabilityID, "CVE-") {
				g.cves = appendUnique(g.cves, v.VulnerabilityID)
			}
		}
	}

	for _, g := range order {
		if g.err != nil {
			c.fail(g.err)
			continue
		}

		desc := fmt.Sprintf("Version %s of %s was present on the container, which is at risk from publicly known vulnerabilities.\n\nThe package was vulnerable to:\n%s\n",
			g.version, g.pkg, strings.Join(g.lines, "\n"))

		recommendation := fmt.Sprintf("Upgrade %s to the latest version", g.pkg)
		if g.fixed != "" {
			recommendation += ", at least " + g.fixed + ","
		}
		recommendation += " to make use of the most recent security patches and fixes. Please note that this may break required features of the currently used version; it is recommended to test and assess the impact of the upgrade before carrying this out in a production environment."

		c.add(model.Finding{
			IssueType:      "containers",
			ToolName:       "trivy",
			Title:          "Vulnerabilities identified for " + g.pkg,
			Description:    desc,
			Location:       g.target,
			Recommendation: recommendation,
			Severity:       g.severity,
			CVE:            strings.Join(g.cves, ", "),
			Raw:            rawArray(g.raws),
		})
	}
	return c.result()
}

// trivySeverity maps trivy severities. UNKNOWN means the vulnerability was not
// rated by any vendor yet and is reported as informational.
func trivySeverity(s string) (model.Severity, error) {
	if strings.EqualFold(strings.TrimSpace(s), "unknown") {
		return model.SeverityInformational, nil
	}
	return model.ParseSeverity(s)
}
