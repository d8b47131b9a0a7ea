// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"
	"time"

	"github.com/ochairo/geiger/internal/domain/entities"
)

// ReportRepository persists versioned scan reports
type ReportRepository interface {
	// Save writes a new report version and returns where it was stored
	Save(ctx context.Context, report *entities.ScanReport) (string, error)

	// Load returns the latest report for target
	Load(ctx context.Context, target string) (*entities.ScanReport, error)

	// LoadVersion returns the report generated at ts
	LoadVersion(ctx context.Context, target string, ts time.Time) (*entities.ScanReport, error)

	// List returns every stored version of target, oldest first
	List(ctx context.Context, target string) ([]time.Time, error)

	// Targets returns every target with at least one report
	Targets(ctx context.Context) ([]string, error)
}

// ReportMirror copies saved reports to secondary storage
type ReportMirror interface {
	Mirror(ctx context.Context, report *entities.ScanReport, localPath string) error
}
