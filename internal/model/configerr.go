package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrorDetail is a single human readable configuration problem.
type CueErrorDetail struct {
	Path    string // jira.accepted_statuses.0
	Code    string // missing_required | unknown_field | invalid_enum | type_mismatch | conflicting_values | validation_error
	Message string
	Pos     CueErrorPosition
	Raw     string
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reEnum        = regexp.MustCompile(`(?i)empty disjunction|must be one of|expected one of`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*|mismatched types`)
	reRegexp      = regexp.MustCompile(`(?i)does not match|invalid value`)
)

// enumHints lists the fields whose allowed values are worth repeating in a message.
var enumHints = map[string]string{
	"fail_threshold": "fail_threshold",
}

// CueErrDetails converts an error returned by LoadConfig into details
// suitable for logging. Errors not coming from CUE produce a single detail.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}
	details := humanize(err, schema)
	if len(details) == 0 {
		details = append(details, CueErrorDetail{
			Code:    "validation_error",
			Message: err.Error(),
			Raw:     err.Error(),
		})
	}
	return details
}

func humanize(err error, root cue.Value) []CueErrorDetail {
	seen := make(map[string]struct{})

	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		raw, args := e.Msg()
		raw = fmt.Sprintf(raw, args...)
		path := normalizePath(e.Path())
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}

		code, msg := classify(raw, path)
		if hint, ok := enumHints[path]; ok {
			values, dflt := enumStrings(root.LookupPath(cue.ParsePath(hint)))
			if len(values) > 0 {
				msg += fmt.Sprintf(": possible values (%s)", strings.Join(values, ","))
			}
			if dflt != "" {
				msg += fmt.Sprintf(" (default %s)", dflt)
			}
		}

		out = append(out, CueErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     position(e),
			Raw:     raw,
		})
	}
	return out
}

// enumStrings flattens a disjunction of strings, including referenced definitions.
func enumStrings(v cue.Value) (values []string, dflt string) {
	if d, ok := v.Default(); ok {
		if s, err := d.String(); err == nil {
			dflt = s
		}
	}
	seen := map[string]struct{}{}
	var walk func(cue.Value)
	walk = func(v cue.Value) {
		if op, args := v.Expr(); op == cue.OrOp {
			for _, a := range args {
				walk(a)
			}
			return
		}
		if s, err := v.String(); err == nil {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				values = append(values, s)
			}
		}
	}
	walk(v)
	return values, dflt
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return CueErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	return CueErrorPosition{}
}

func normalizePath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	field := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		field = path[i+1:]
	}
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", field)
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("Field %s is required", field)
	case reEnum.MatchString(raw):
		return "invalid_enum", fmt.Sprintf("Field %s has invalid value", field)
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("Conflicting values for %s", field)
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s has wrong type", field)
	case reRegexp.MatchString(raw):
		return "invalid_value", fmt.Sprintf("Field %s has invalid value", field)
	default:
		return "validation_error", raw
	}
}
