package model

import (
	"fmt"
	"math"
	"strings"
)

// Severity is a normalized, lowercase severity of a Finding.
type Severity string

const (
	SeverityInformational Severity = "informational"
	SeverityLow           Severity = "low"
	SeverityMedium        Severity = "medium"
	SeverityHigh          Severity = "high"
	SeverityCritical      Severity = "critical"

	// SeverityUnknown is returned by mappings which can't place a value on the scale.
	// It has no ordinal and is rejected by NewFinding.
	SeverityUnknown Severity = "unknown"
)

var ordinals = map[Severity]int{
	SeverityInformational: 1,
	SeverityLow:           2,
	SeverityMedium:        3,
	SeverityHigh:          4,
	SeverityCritical:      5,
}

// Severities returns all known severities ordered from the least to the most severe.
func Severities() []Severity {
	return []Severity{
		SeverityInformational,
		SeverityLow,
		SeverityMedium,
		SeverityHigh,
		SeverityCritical,
	}
}

// ParseSeverity accepts any letter case and surrounding whitespace.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := ordinals[sev]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
	}
	return sev, nil
}

// Ordinal returns the rank of severity in range 1..5.
func (s Severity) Ordinal() (int, error) {
	o, ok := ordinals[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSeverity, string(s))
	}
	return o, nil
}

// Max returns the more severe of s and o. Unknown values lose against known ones.
func (s Severity) Max(o Severity) Severity {
	if ordinals[o] > ordinals[s] {
		return o
	}
	return s
}

// Title returns the severity with the first letter in upper case, as used in descriptions.
func (s Severity) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// CVSSBand maps a CVSS base score onto the severity scale. Scores are compared
// with one decimal precision. Anything outside 0.1..10.0 is SeverityUnknown.
func CVSSBand(score float64) Severity {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return SeverityUnknown
	}
	tenths := math.Round(score * 10)
	switch {
	case tenths >= 1 && tenths <= 39:
		return SeverityLow
	case tenths >= 40 && tenths <= 69:
		return SeverityMedium
	case tenths >= 70 && tenths <= 89:
		return SeverityHigh
	case tenths >= 90 && tenths <= 100:
		return SeverityCritical
	default:
		return SeverityUnknown
	}
}

// ThresholdOff disables the fail gate.
const ThresholdOff = "off"

// Threshold is a validated fail threshold: a severity or "off".
type Threshold string

func ParseThreshold(s string) (Threshold, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == ThresholdOff {
		return Threshold(v), nil
	}
	if _, err := ParseSeverity(v); err != nil {
		return "", fmt.Errorf("%w: %q: expected one of informational, low, medium, high, critical or off", ErrInvalidThreshold, s)
	}
	return Threshold(v), nil
}

func (t Threshold) Off() bool {
	return t == ThresholdOff
}

// Ordinal returns 0 for "off" and the severity ordinal otherwise.
func (t Threshold) Ordinal() (int, error) {
	if t.Off() {
		return 0, nil
	}
	o, ok := ordinals[Severity(t)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidThreshold, string(t))
	}
	return o, nil
}
