package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/CZERTAINLY/csop/internal/model"
)

type shedReport struct {
	Request struct {
		URL string `json:"url"`
	} `json:"request"`
	HSTS    json.RawMessage   `json:"hsts"`
	XFrame  json.RawMessage   `json:"xframe"`
	XSS     json.RawMessage   `json:"xss"`
	Curious []json.RawMessage `json:"curious"`
}

type shedCheck struct {
	Present bool `json:"present"`
}

type shedMissing struct {
	raw            json.RawMessage
	title          string
	description    string
	recommendation string
}

// parseShed reports security headers missing from a response and headers which
// may disclose implementation details.
func parseShed(_ context.Context, _ Env, in Input) ([]model.Finding, error) {
	var report shedReport
	if err := decode(in.Data, &report); err != nil {
		return nil, err
	}
	url := report.Request.URL

	checks := []shedMissing{
		{
			raw:   report.HSTS,
			title: "No Strict-Transport-Security Header Present",
			description: `The HTTP Strict-Transport-Security (HSTS) header was not
returned by the requested URL.

The HSTS header instructs a browser to access the site/URL in
future requests over HTTPS only, rather than over HTTP.`,
			recommendation: `Return a Strict-Transport-Security header with a secure value set;
see https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/Strict-Transport-Security for information on configuration.`,
		},
		{
			raw:   report.XFrame,
			title: "No X-Frame-Options Header Present",
			description: `The X-Frame-Options header was not returned by the requested URL.

The X-Frame-Options header identifies whether a browser should
be allowed to frame a response, and can help to mitigate clickjacking
attacks.`,
			recommendation: `Return the X-Frame-Options header;
see https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/X-Frame-Options for information on configuration.`,
		},
		{
			raw:   report.XSS,
			title: "No X-XSS-Protection Header Present",
			description: `The X-XSS-Protection header was not returned by the requested URL.

The X-XSS-Protection header instructs browsers on detection of an
attempted Cross-Site Scripting attack to either sanitise or remove
the attack, depending on the value of the header.`,
			recommendation: `Return the X-XSS-Protection header with a secure value set;
see https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/X-XSS-Protection for information on configuration.

Please make your own judgment call separate from this finding - the
X-XSS-Protection header is no longer actively supported by modern browsers.
See https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/X-XSS-Protection
for more information.`,
		},
	}

	c := newCollector(in)
	for _, check := range checks {
		// a check missing in the report was not performed
		if len(check.raw) == 0 || string(check.raw) == "null" {
			continue
		}
		var result shedCheck
		if err := json.Unmarshal(check.raw, &result); err != nil {
			c.fail(fmt.Errorf("%s: %w", check.title, err))
			continue
		}
		if result.Present {
			continue
		}
		c.add(model.Finding{
			IssueType:      "headers",
			ToolName:       "SHeD",
			Title:          check.title,
			Description:    check.description,
			Location:       url,
			Recommendation: check.recommendation,
			Severity:       model.SeverityLow,
			Raw:            check.raw,
		})
	}

	for idx, raw := range report.Curious {
		var headers map[string]string
		if err := json.Unmarshal(raw, &headers); err != nil {
			c.fail(fmt.Errorf("curious header %d: %w", idx, err))
			continue
		}
		names := make([]string, 0, len(headers))
		for name := range headers {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			c.add(model.Finding{
				IssueType: "headers",
				ToolName:  "SHeD",
				Title:     "Curious Header",
				Description: fmt.Sprintf(`A potentially suspicious header was returned by the
requested URL.

The header was:
%s: %s`, name, headers[name]),
				Location:       url,
				Recommendation: "Confirm whether the header is required to be returned. If not, consider omitting the header from future responses.",
				Severity:       model.SeverityLow,
				Raw:            raw,
			})
		}
	}
	return c.result()
}
