package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CZERTAINLY/csop/internal/model"
)

type snykProject struct {
	Vulnerabilities   []json.RawMessage `json:"vulnerabilities"`
	ProjectName       string            `json:"projectName"`
	DisplayTargetFile string            `json:"displayTargetFile"`
}

type snykVulnerability struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Severity    string   `json:"severity"`
	PackageName string   `json:"packageName"`
	Version     string   `json:"version"`
	From        []string `json:"from"`
	FixedIn     []string `json:"fixedIn"`
	Identifiers struct {
		CVE []string `json:"CVE"`
	} `json:"identifiers"`
}

type snykGroup struct {
	name     string
	version  string
	severity model.Severity
	lines    []string
	cves     []string
	fixedIn  []string
	raws     []json.RawMessage
	err      error
}

// parseSnyk handles `snyk test --json` of node projects. The output is an object
// for a single project or an array for --all-projects. One finding per vulnerable
// package version.
func parseSnyk(_ context.Context, _ Env, in Input) ([]model.Finding, error) {
	var projects []snykProject
	switch leading(in.Data) {
	case '[':
		if err := decode(in.Data, &projects); err != nil {
			return nil, err
		}
	default:
		var p snykProject
		if err := decode(in.Data, &p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}

	c := newCollector(in)
	var order []string
	groups := make(map[string]*snykGroup)
	for _, p := range projects {
		for idx, raw := range p.Vulnerabilities {
			var v snykVulnerability
			if err := json.Unmarshal(raw, &v); err != nil {
				c.fail(fmt.Errorf("project %s: vulnerability %d: %w", p.ProjectName, idx, err))
				continue
			}
			key := v.PackageName + "@" + v.Version
			g, ok := groups[key]
			if !ok {
				g = &snykGroup{name: v.PackageName, version: v.Version}
				groups[key] = g
				order = append(order, key)
			}
			g.raws = append(g.raws, raw)

			sev, err := model.ParseSeverity(v.Severity)
			if err != nil && g.err == nil {
				g.err = fmt.Errorf("package %s: vulnerability %s: %w", key, v.ID, err)
			}
			g.severity = g.severity.Max(sev)
			line := fmt.Sprintf("- %s (%s) - %s", v.ID, sev.Title(), v.Title)
			if len(v.From) > 1 {
				line += "\n  introduced through " + strings.Join(v.From[1:], " > ")
			}
			g.lines = appendUnique(g.lines, line)
			for _, cve := range v.Identifiers.CVE {
				g.cves = appendUnique(g.cves, cve)
			}
			for _, fixed := range v.FixedIn {
				g.fixedIn = appendUnique(g.fixedIn, fixed)
			}
		}
	}

	for _, key := range order {
		g := groups[key]
		if g.err != nil {
			c.fail(g.err)
			continue
		}

		desc := fmt.Sprintf("Version %s of %s, a Node.js dependency pulled by the scanned project, was found to be vulnerable to security issues. Such vulnerabilities have been listed below.\n\n%s\n",
			g.version, g.name, strings.Join(g.lines, "\n"))

		recommendation := fmt.Sprintf("Upgrade %s to the latest stable version", g.name)
		if len(g.fixedIn) > 0 {
			recommendation += ", at least " + strings.Join(g.fixedIn, " or ")
		}
		recommendation += ", to make use of the most recent security patches and fixes. If the package is a transitive dependency, upgrade the direct dependency which pulls it."

		c.add(model.Finding{
			IssueType:      "dependencies",
			ToolName:       "snyk",
			Title:          "Use of vulnerable Node.js dependency - " + key,
			Description:    desc,
			Location:       g.name,
			Recommendation: recommendation,
			Severity:       g.severity,
			CVE:            strings.Join(g.cves, ", "),
			Raw:            rawArray(g.raws),
		})
	}
	return c.result()
}
