package entities

import (
	"fmt"
	"time"
)

// ReportSchemaVersion is the version of the persisted report format
const ReportSchemaVersion = 1

// ScanReport is the persisted aggregate of one scan of one artifact.
// Reports are immutable once saved; a re-scan creates a new version.
type ScanReport struct {
	SchemaVersion int              `json:"schema_version"`
	Target        string           `json:"target"`
	PackageID     string           `json:"package_id"`
	Fingerprint   string           `json:"fingerprint"`
	GeneratedAt   time.Time        `json:"generated_at"`
	CacheKey      string           `json:"cache_key"`
	Degraded      bool             `json:"degraded,omitempty"`
	Findings      []Finding        `json:"findings"`
	Counts        map[Severity]int `json:"counts"`
	ByEngine      map[EngineID]int `json:"by_engine"`
	EngineErrors  []EngineError    `json:"engine_errors"`
	ParseWarnings []ParseWarning   `json:"parse_warnings,omitempty"`
}

// EngineError records an engine that did not contribute findings
type EngineError struct {
	Engine EngineID  `json:"engine"`
	Status RunStatus `json:"status"`
	Reason string    `json:"reason"`
}

// ParseWarning records malformed records an engine emitted
type ParseWarning struct {
	Engine  EngineID `json:"engine"`
	Skipped int      `json:"skipped"`
	Samples []string `json:"samples,omitempty"`
}

// Total returns the sum of the per-severity counts
func (r *ScanReport) Total() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}

// Validate checks the report's structural invariants
func (r *ScanReport) Validate() error {
	if r.Target == "" {
		return fmt.Errorf("report target is empty")
	}
	if r.GeneratedAt.IsZero() {
		return fmt.Errorf("report generation time is not set")
	}
	if total := r.Total(); total != len(r.Findings) {
		return fmt.Errorf("severity counts sum to %d, report has %d findings", total, len(r.Findings))
	}
	seen := make(map[string]struct{}, len(r.Findings))
	for i := range r.Findings {
		f := &r.Findings[i]
		if !f.Severity.Valid() {
			return fmt.Errorf("finding %s has non-canonical severity %q", f.ID, f.Severity)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("duplicate finding id %s", f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// HasErrors reports whether any engine failed, timed out, or was skipped
func (r *ScanReport) HasErrors() bool {
	return len(r.EngineErrors) > 0
}
