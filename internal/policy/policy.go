// Package policy reduces a deduplicated set of findings and evaluates the fail gate.
//
// Every pass returns a new slice, the input is never modified.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CZERTAINLY/csop/internal/model"
)

type Config struct {
	Threshold  model.Threshold
	AllowIDs   []string
	AllowPaths []string
	// AcceptedStatuses are tracker statuses of triaged findings, compared case insensitively.
	AcceptedStatuses []string
}

// Stats counts findings removed or marked by each pass.
type Stats struct {
	AllowlistedIDs   int
	AllowlistedPaths int
	Triaged          int
	Failing          int
}

type Result struct {
	Findings []model.Finding
	// ExitCode is the highest severity ordinal of a failing finding or 0.
	ExitCode int
	Stats    Stats
}

// Apply runs allowlist by identity, allowlist by path, tracker reconciliation
// and the severity threshold in this order. statuses maps an identity to its
// tracker status; nil skips reconciliation.
func Apply(ctx context.Context, cfg Config, findings []model.Finding, statuses map[string]string) (Result, error) {
	var res Result

	findings, res.Stats.AllowlistedIDs = AllowlistIDs(findings, cfg.AllowIDs)
	findings, res.Stats.AllowlistedPaths = AllowlistPaths(findings, cfg.AllowPaths)
	if statuses != nil {
		findings, res.Stats.Triaged = Reconcile(findings, statuses, cfg.AcceptedStatuses)
	}

	findings, code, err := Threshold(findings, cfg.Threshold)
	if err != nil {
		return Result{}, err
	}
	for _, f := range findings {
		if f.Fails {
			res.Stats.Failing++
			logFailing(ctx, f)
		}
	}
	res.Findings = findings
	res.ExitCode = code

	slog.DebugContext(ctx, "policy applied",
		"allowlisted_ids", res.Stats.AllowlistedIDs,
		"allowlisted_paths", res.Stats.AllowlistedPaths,
		"triaged", res.Stats.Triaged,
		"failing", res.Stats.Failing,
		"exit_code", res.ExitCode,
	)
	return res, nil
}

func logFailing(ctx context.Context, f model.Finding) {
	summary, _, _ := strings.Cut(f.Description, "\n")
	slog.WarnContext(ctx, "finding fails the threshold",
		"tool", f.ToolName,
		"title", f.Title,
		"severity", f.Severity,
		"summary", summary,
		"location", f.Location,
		"identity", f.Identity(),
	)
}

// AllowlistIDs removes every finding whose identity is listed in ids.
// It returns the kept findings and the number of removed ones.
func AllowlistIDs(findings []model.Finding, ids []string) ([]model.Finding, int) {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[strings.TrimSpace(id)] = struct{}{}
	}
	return filter(findings, func(f model.Finding) bool {
		_, ok := allowed[f.Identity()]
		return !ok
	})
}

// AllowlistPaths removes every finding whose location contains any of paths.
// Empty paths are ignored as they would match everything.
func AllowlistPaths(findings []model.Finding, paths []string) ([]model.Finding, int) {
	subs := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			subs = append(subs, p)
		}
	}
	return filter(findings, func(f model.Finding) bool {
		for _, s := range subs {
			if strings.Contains(f.Location, s) {
				return false
			}
		}
		return true
	})
}

// Reconcile removes findings already triaged in a tracker: those whose
// identity maps to one of the accepted statuses.
func Reconcile(findings []model.Finding, statuses map[string]string, accepted []string) ([]model.Finding, int) {
	ok := make(map[string]struct{}, len(accepted))
	for _, s := range accepted {
		ok[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return filter(findings, func(f model.Finding) bool {
		status, found := statuses[f.Identity()]
		if !found {
			return true
		}
		_, triaged := ok[strings.ToLower(strings.TrimSpace(status))]
		return !triaged
	})
}

// Threshold marks findings at or above the threshold as failing and returns the
// highest failing ordinal. The "off" threshold marks nothing and returns 0.
// A finding with an unknown severity is an error: the gate must not be
// silently disabled by an unexpected value.
func Threshold(findings []model.Finding, t model.Threshold) ([]model.Finding, int, error) {
	limit, err := t.Ordinal()
	if err != nil {
		return nil, 0, err
	}

	ret := make([]model.Finding, len(findings))
	copy(ret, findings)
	if t.Off() {
		for i := range ret {
			ret[i].Fails = false
		}
		return ret, 0, nil
	}

	code := 0
	for i := range ret {
		o, err := ret[i].Severity.Ordinal()
		if err != nil {
			return nil, 0, fmt.Errorf("finding %q at %q: %w", ret[i].Title, ret[i].Location, err)
		}
		ret[i].Fails = o >= limit
		if ret[i].Fails {
			code = max(code, o)
		}
	}
	return ret, code, nil
}

func filter(findings []model.Finding, keep func(model.Finding) bool) ([]model.Finding, int) {
	ret := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		if keep(f) {
			ret = append(ret, f)
		}
	}
	return ret, len(findings) - len(ret)
}
