// Package parser converts scanner reports into findings.
//
// Each supported scanner has an entry in a static table which maps a file name
// pattern to a parse function. A report file is dispatched to every entry whose
// pattern is a substring of its base name.
package parser

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/CZERTAINLY/csop/internal/model"
)

// Env carries the data parsers need besides the report itself.
type Env struct {
	Metadata   model.Metadata
	GosecRules GosecRules
	// MergeSecretsByFile reports one secret finding per file instead of one per offense.
	MergeSecretsByFile bool
}

// Input is a single report file.
type Input struct {
	Name string // path of the file, used for dispatch and as Finding.Source
	Data []byte
}

// Func parses a report. It returns the findings it could build together with
// an error describing the records or the whole document it had to skip.
type Func func(ctx context.Context, env Env, in Input) ([]model.Finding, error)

type Entry struct {
	Tool    string
	Pattern string
	Parse   Func
}

var entries = [...]Entry{
	{Tool: "gosec", Pattern: "gosec", Parse: parseGosec},
	{Tool: "nancy", Pattern: "nancy", Parse: parseNancy},
	{Tool: "burrow", Pattern: "burrow", Parse: parseBurrow},
	{Tool: "gitleaks", Pattern: "gitleaks", Parse: parseGitleaks},
	{Tool: "snyk", Pattern: "snyk_node", Parse: parseSnyk},
	{Tool: "insider", Pattern: "insider", Parse: parseInsider},
	{Tool: "SHeD", Pattern: "shed", Parse: parseShed},
	{Tool: "trivy", Pattern: "trivy", Parse: parseTrivy},
	{Tool: "semgrep", Pattern: "semgrep", Parse: parseSemgrep},
	{Tool: "detect-secrets", Pattern: "detect_secrets", Parse: parseDetectSecrets},
}

// Entries returns a copy of the dispatch table.
func Entries() []Entry {
	return append([]Entry(nil), entries[:]...)
}

type Registry struct {
	env     Env
	entries []Entry
}

func New(env Env) *Registry {
	return &Registry{
		env:     env,
		entries: Entries(),
	}
}

// Match returns all entries whose pattern is a substring of base name of path.
func (r *Registry) Match(path string) []Entry {
	name := filepath.Base(path)
	var ret []Entry
	for _, e := range r.entries {
		if strings.Contains(name, e.Pattern) {
			ret = append(ret, e)
		}
	}
	return ret
}

// Dispatch runs every matching parser on in. Parser errors are logged here and
// never returned; a malformed report contributes zero findings.
func (r *Registry) Dispatch(ctx context.Context, in Input) []model.Finding {
	matches := r.Match(in.Name)
	switch len(matches) {
	case 0:
		slog.DebugContext(ctx, "no parser for file, skipping", "file", in.Name)
		return nil
	case 1:
	default:
		tools := make([]string, len(matches))
		for i, m := range matches {
			tools[i] = m.Tool
		}
		slog.WarnContext(ctx, "file matches several parsers, all of them are used", "file", in.Name, "tools", tools)
	}

	var ret []model.Finding
	for _, e := range matches {
		findings, err := e.Parse(ctx, r.env, in)
		switch {
		case errors.Is(err, model.ErrMalformed):
			slog.WarnContext(ctx, "malformed scanner output, skipping", "file", in.Name, "tool", e.Tool, "error", err)
			continue
		case err != nil:
			slog.ErrorContext(ctx, "parsing failed", "file", in.Name, "tool", e.Tool, "error", err)
		}
		slog.DebugContext(ctx, "issues reported", "file", in.Name, "tool", e.Tool, "count", len(findings))
		ret = append(ret, findings...)
	}
	return ret
}
