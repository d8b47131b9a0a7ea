// Package services defines interfaces for domain service contracts.
package services

import (
	"github.com/ochairo/geiger/internal/domain/entities"
)

// FindingsService turns engine runs into canonical, merged findings
type FindingsService interface {
	// Normalize maps one engine's findings to the canonical schema
	Normalize(engine entities.EngineID, findings []entities.EngineFinding) ([]entities.Finding, []string)

	// Merge deduplicates findings across engines in priority order
	Merge(sets ...[]entities.Finding) []entities.Finding

	// Summarize builds the report aggregate from merged findings and runs
	Summarize(report *entities.ScanReport, merged []entities.Finding, runs []*entities.EngineRun)
}
