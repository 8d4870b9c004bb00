// Package pipeline runs one batch: parse every report, deduplicate the findings
// and apply the policy. Reports are processed sequentially in the order they
// were discovered.
package pipeline

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/CZERTAINLY/csop/internal/identity"
	"github.com/CZERTAINLY/csop/internal/model"
	"github.com/CZERTAINLY/csop/internal/parser"
	"github.com/CZERTAINLY/csop/internal/policy"
	"github.com/CZERTAINLY/csop/internal/tracker"
	"github.com/CZERTAINLY/csop/internal/walk"
)

// Tracker returns the status of already reported findings keyed by identity.
type Tracker interface {
	Statuses(ctx context.Context, repository string) (map[string]string, error)
}

type Config struct {
	Env    parser.Env
	Policy policy.Config
	// Tracker is optional, nil disables reconciliation.
	Tracker Tracker
}

// Counts are the run statistics reported in the metadata.
type Counts struct {
	Parsed           int `json:"parsed"`
	Deduplicated     int `json:"deduplicated"`
	AllowlistedIDs   int `json:"allowlisted_ids"`
	AllowlistedPaths int `json:"allowlisted_paths"`
	Triaged          int `json:"triaged"`
	Reported         int `json:"reported"`
	Failing          int `json:"failing"`
}

type Result struct {
	Findings []model.Finding
	// ExitCode is the highest severity ordinal of a failing finding or 0.
	ExitCode int
	Counts   Counts
	// Inputs are the paths of all reports read, including those no parser handles.
	Inputs []string
}

type Pipeline struct {
	registry *parser.Registry
	env      parser.Env
	policy   policy.Config
	tracker  Tracker
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		registry: parser.New(cfg.Env),
		env:      cfg.Env,
		policy:   cfg.Policy,
		tracker:  cfg.Tracker,
	}
}

// Run reads every entry and processes them. Files which can't be read are
// logged and skipped.
func (p *Pipeline) Run(ctx context.Context, entries iter.Seq2[walk.Entry, error]) (Result, error) {
	var inputs []parser.Input
	for entry, err := range entries {
		if err != nil {
			slog.WarnContext(ctx, "skipping input", "error", err)
			continue
		}
		data, err := walk.Read(entry)
		if err != nil {
			slog.WarnContext(ctx, "can't read input, skipping", "file", entry.Path(), "error", err)
			continue
		}
		inputs = append(inputs, parser.Input{Name: entry.Path(), Data: data})
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return p.Process(ctx, inputs)
}

// Process parses inputs, removes duplicates and applies the policy. Only policy
// errors are returned; parser and tracker failures are logged.
func (p *Pipeline) Process(ctx context.Context, inputs []parser.Input) (Result, error) {
	var res Result
	var findings []model.Finding
	var supported int
	for _, in := range inputs {
		res.Inputs = append(res.Inputs, in.Name)
		if len(p.registry.Match(in.Name)) > 0 {
			supported++
		}
		findings = append(findings, p.registry.Dispatch(ctx, in)...)
	}
	switch {
	case len(inputs) == 0:
		slog.WarnContext(ctx, "no scanner reports were found, is the input directory right?")
	case supported == 0:
		slog.WarnContext(ctx, "no supported scanner reports were found, is the input directory right?", "files", res.Inputs)
	}

	findings, stats := identity.Dedup(findings)
	res.Counts.Parsed = stats.Before
	res.Counts.Deduplicated = stats.After
	slog.InfoContext(ctx, "findings parsed", "files", len(inputs), "parsed", stats.Before, "duplicates", stats.Removed())

	pres, err := policy.Apply(ctx, p.policy, findings, p.statuses(ctx))
	if err != nil {
		return Result{}, err
	}
	res.Findings = pres.Findings
	res.ExitCode = pres.ExitCode
	res.Counts.AllowlistedIDs = pres.Stats.AllowlistedIDs
	res.Counts.AllowlistedPaths = pres.Stats.AllowlistedPaths
	res.Counts.Triaged = pres.Stats.Triaged
	res.Counts.Failing = pres.Stats.Failing
	res.Counts.Reported = len(pres.Findings)
	return res, nil
}

// statuses returns nil when there is no tracker or it can't be queried.
func (p *Pipeline) statuses(ctx context.Context) map[string]string {
	if p.tracker == nil {
		return nil
	}
	statuses, err := p.tracker.Statuses(ctx, p.env.Metadata.Repository)
	switch {
	case errors.Is(err, tracker.ErrUnauthorized):
		slog.ErrorContext(ctx, "tracker authentication failed, findings are not reconciled", "error", err)
		return nil
	case err != nil:
		slog.ErrorContext(ctx, "tracker unavailable, findings are not reconciled", "error", err)
		return nil
	}
	slog.DebugContext(ctx, "tracker statuses", "count", len(statuses))
	if statuses == nil {
		statuses = map[string]string{}
	}
	return statuses
}
