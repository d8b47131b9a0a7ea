package services

import (
	"testing"

	"github.com/ochairo/geiger/internal/domain/entities"
)

func TestMapSeverity_DefaultTables(t *testing.T) {
	tests := []struct {
		name   string
		engine entities.EngineID
		native string
		want   entities.Severity
	}{
		{"nuclei critical", entities.EngineNuclei, "critical", entities.SeverityCritical},
		{"nuclei high", entities.EngineNuclei, "high", entities.SeverityHigh},
		{"nuclei medium", entities.EngineNuclei, "medium", entities.SeverityMedium},
		{"nuclei low", entities.EngineNuclei, "low", entities.SeverityLow},
		{"nuclei info lowers to LOW", entities.EngineNuclei, "info", entities.SeverityLow},
		{"reavs upper case", entities.EngineReavs, "CRITICAL", entities.SeverityCritical},
		{"reavs INFO", entities.EngineReavs, "INFO", entities.SeverityLow},
		{"mixed case with spaces", entities.EngineReavs, " High ", entities.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warn := MapSeverity(tt.engine, DefaultSeverityMap(tt.engine), tt.native)
			if got != tt.want {
				t.Errorf("MapSeverity(%q) = %s, want %s", tt.native, got, tt.want)
			}
			if warn != "" {
				t.Errorf("MapSeverity(%q) warning = %q, want none", tt.native, warn)
			}
		})
	}
}

func TestMapSeverity_Unmapped(t *testing.T) {
	for _, native := range []string{"", "unknown", "warning", "p1"} {
		got, warn := MapSeverity(entities.EngineNuclei, DefaultSeverityMap(entities.EngineNuclei), native)
		if got != entities.SeverityMedium {
			t.Errorf("MapSeverity(%q) = %s, want MEDIUM", native, got)
		}
		if warn == "" {
			t.Errorf("MapSeverity(%q) should warn", native)
		}
	}
}

func TestSeverityMap_WithOverrides(t *testing.T) {
	table := DefaultSeverityMap(entities.EngineNuclei).With(map[string]entities.Severity{
		"INFO":    entities.SeverityMedium,
		"warning": entities.SeverityHigh,
	})

	if got, _ := MapSeverity(entities.EngineNuclei, table, "info"); got != entities.SeverityMedium {
		t.Errorf("override info = %s, want MEDIUM", got)
	}
	if got, _ := MapSeverity(entities.EngineNuclei, table, "Warning"); got != entities.SeverityHigh {
		t.Errorf("override warning = %s, want HIGH", got)
	}

	// base table must be untouched
	if got, _ := MapSeverity(entities.EngineNuclei, DefaultSeverityMap(entities.EngineNuclei), "info"); got != entities.SeverityLow {
		t.Errorf("default info = %s, want LOW", got)
	}
}
