package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/CZERTAINLY/csop/internal/model"
)

const nancyRecommendation = "Update %s to the latest stable version to ensure the project makes use of the latest security patches and fixes that the new version comes with.\n\nIf it is not possible to update the dependency, then consider the risk exposed to the business and project.\nAlso, as a last case consider identifying and using alernative dependencies that provide similar functionality albeit without the original vulnerability."

type nancyReport struct {
	NumVulnerable int               `json:"num_vulnerable"`
	Vulnerable    []json.RawMessage `json:"vulnerable"`
}

type nancyPackage struct {
	Coordinates     string               `json:"Coordinates"`
	Reference       string               `json:"Reference"`
	Vulnerabilities []nancyVulnerability `json:"Vulnerabilities"`
}

type nancyVulnerability struct {
	ID          string `json:"ID"`
	Title       string `json:"Title"`
	Description string `json:"Description"`
	CvssScore   string `json:"CvssScore"`
	Cve         string `json:"Cve"`
	Reference   string `json:"Reference"`
	Excluded    bool   `json:"Excluded"`
}

// parseNancy reports one finding per vulnerable Go module, all vulnerabilities
// of the module are listed in its description.
func parseNancy(_ context.Context, _ Env, in Input) ([]model.Finding, error) {
	var report nancyReport
	if err := decode(in.Data, &report); err != nil {
		return nil, err
	}

	c := newCollector(in)
	for idx, raw := range report.Vulnerable {
		var pkg nancyPackage
		if err := json.Unmarshal(raw, &pkg); err != nil {
			c.fail(fmt.Errorf("dependency %d: %w", idx, err))
			continue
		}
		if len(pkg.Vulnerabilities) == 0 {
			continue
		}

		nameVersion := strings.TrimPrefix(pkg.Coordinates, "pkg:golang/")
		name, version := nameVersion, ""
		if i := strings.LastIndexByte(nameVersion, '@'); i >= 0 {
			name, version = nameVersion[:i], nameVersion[i+1:]
		}

		var desc strings.Builder
		fmt.Fprintf(&desc, "Version %s of %s, a Go dependency pulled by the scanned project, was found to be vulnerable to security issues. Such vulnerabilities have been listed below.\n\n", version, name)

		severity := model.Severity("")
		var cves []string
		var scoreErr error
		for _, v := range pkg.Vulnerabilities {
			desc.WriteString(v.Title + "\n")
			desc.WriteString(v.Description)
			desc.WriteString("\nFurther information can be found at " + v.Reference + "\n\n")
			cves = appendUnique(cves, v.Cve)

			sev, err := nancySeverity(v.CvssScore)
			if err != nil {
				scoreErr = fmt.Errorf("dependency %s: vulnerability %s: %w", nameVersion, v.ID, err)
				break
			}
			severity = severity.Max(sev)
		}
		if scoreErr != nil {
			c.fail(scoreErr)
			continue
		}
		if severity == "" {
			severity = model.SeverityLow
		}

		c.add(model.Finding{
			IssueType:      "dependencies",
			ToolName:       "nancy",
			Title:          "Use of vulnerable Go dependency - " + nameVersion,
			Description:    desc.String(),
			Location:       name,
			Recommendation: fmt.Sprintf(nancyRecommendation, name),
			Severity:       severity,
			CVE:            strings.Join(cves, ", "),
			Raw:            raw,
		})
	}
	return c.result()
}

// nancySeverity maps a CVSS score. Missing and zero scores are unrated and
// return an empty severity.
func nancySeverity(score string) (model.Severity, error) {
	score = strings.TrimSpace(score)
	if score == "" {
		return "", nil
	}
	f, err := strconv.ParseFloat(score, 64)
	if err != nil {
		return "", fmt.Errorf("%w: cvss score %q", model.ErrUnknownSeverity, score)
	}
	if f == 0 {
		return "", nil
	}
	sev := model.CVSSBand(f)
	if sev == model.SeverityUnknown {
		return "", fmt.Errorf("%w: cvss score %q", model.ErrUnknownSeverity, score)
	}
	return sev, nil
}
