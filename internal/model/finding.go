package model

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/CZERTAINLY/csop/internal/identity"
)

// NoCVE is the cve_value of findings without a CVE identifier.
const NoCVE = "n/a"

// Finding is one normalized security observation.
type Finding struct {
	IssueType      string // secrets, dependencies, code, containers, headers
	ToolName       string
	Title          string
	Description    string
	Location       string // opaque: path, path:line, package name or URL depending on a tool
	Recommendation string
	Severity       Severity
	CVE            string
	Raw            json.RawMessage // tool record the finding was built from
	Source         string          // input file
	Fails          bool

	identity string
}

// NewFinding normalizes f and computes its identity. The identity is the digest of
// basis, or of description and location when basis is empty.
// Unknown severity is reported as ErrUnknownSeverity.
func NewFinding(f Finding, basis ...string) (Finding, error) {
	sev, err := ParseSeverity(string(f.Severity))
	if err != nil {
		return Finding{}, err
	}
	f.Severity = sev
	if f.CVE == "" {
		f.CVE = NoCVE
	}
	if len(f.Raw) == 0 {
		f.Raw = json.RawMessage("null")
	} else {
		var buf bytes.Buffer
		if err := json.Compact(&buf, f.Raw); err == nil {
			f.Raw = buf.Bytes()
		}
	}
	if len(basis) == 0 {
		basis = identity.Default(f.Description, f.Location)
	}
	f.identity = identity.Sum(basis...)
	f.Fails = false
	return f, nil
}

// Identity is the hex encoded SHA-256 digest used for deduplication and allowlisting.
func (f Finding) Identity() string {
	return f.identity
}

// Row returns the CSV columns in the order of Columns.
func (f Finding) Row() []string {
	return []string{
		f.IssueType,
		f.ToolName,
		f.Title,
		string(f.Severity),
		f.Description,
		f.CVE,
		f.Location,
		f.Recommendation,
		string(f.Raw),
		f.identity,
		strconv.FormatBool(f.Fails),
	}
}

// Columns is the fixed header of the CSV report.
var Columns = []string{
	"issue_type",
	"tool_name",
	"title",
	"severity",
	"description",
	"cve_value",
	"location",
	"recommendation",
	"raw_output",
	"identity",
	"fails",
}
