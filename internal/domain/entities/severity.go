package entities

import "strings"

// Severity is the canonical four-level severity scale
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Severities lists the canonical levels from most to least severe
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Rank orders severities; higher is more severe. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the canonical levels
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// ParseSeverity parses a canonical level name, case-insensitively
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

// MaxSeverity returns the more severe of a and b
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SeverityMap maps an engine's native severity vocabulary (lower-cased)
// to the canonical scale
type SeverityMap map[string]Severity

// Lookup maps a native value; ok is false when the value is not in the table
func (m SeverityMap) Lookup(native string) (Severity, bool) {
	s, ok := m[strings.ToLower(strings.TrimSpace(native))]
	return s, ok
}

// With returns a copy of m with overrides applied
func (m SeverityMap) With(overrides map[string]Severity) SeverityMap {
	out := make(SeverityMap, len(m)+len(overrides))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range overrides {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
