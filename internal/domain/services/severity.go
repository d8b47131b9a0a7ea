// Package services implements domain business logic and use cases.
package services

import (
	"fmt"

	"github.com/ochairo/geiger/internal/domain/entities"
)

// DefaultSeverityMap returns the built-in severity table of an engine.
// Unknown engines get an empty table, so every value maps to the fallback.
func DefaultSeverityMap(engine entities.EngineID) entities.SeverityMap {
	switch engine {
	case entities.EngineNuclei:
		return entities.SeverityMap{
			"critical": entities.SeverityCritical,
			"high":     entities.SeverityHigh,
			"medium":   entities.SeverityMedium,
			"low":      entities.SeverityLow,
			"info":     entities.SeverityLow,
		}
	case entities.EngineReavs:
		return entities.SeverityMap{
			"critical": entities.SeverityCritical,
			"high":     entities.SeverityHigh,
			"medium":   entities.SeverityMedium,
			"low":      entities.SeverityLow,
			"info":     entities.SeverityLow,
		}
	default:
		return entities.SeverityMap{}
	}
}

// UnmappedSeverity is assigned when a native value is not in the engine's table
const UnmappedSeverity = entities.SeverityMedium

// MapSeverity maps a native severity through table.
// Unmapped values return UnmappedSeverity and a non-empty warning; they are never dropped.
// Pure business logic - no I/O
func MapSeverity(engine entities.EngineID, table entities.SeverityMap, native string) (entities.Severity, string) {
	if s, ok := table.Lookup(native); ok {
		return s, ""
	}
	return UnmappedSeverity, fmt.Sprintf("%s: unmapped severity %q, using %s", engine, native, UnmappedSeverity)
}
