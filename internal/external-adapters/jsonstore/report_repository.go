// Package jsonstore provides a file-based, versioned report repository.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ochairo/geiger/internal/domain/entities"
)

// versionLayout names report files; it sorts lexically and has no colons
const versionLayout = "20060102T150405.000000000Z"

const defaultCacheSize = 128

// maxVersionAttempts bounds how far a save walks past taken timestamps
const maxVersionAttempts = 1000

// ReportRepository implements repositories.ReportRepository as
// <root>/<target>/<timestamp>.json. Saved versions are never rewritten.
type ReportRepository struct {
	root  string
	cache *lru.Cache[string, *entities.ScanReport]
}

// NewReportRepository creates a repository rooted at root
func NewReportRepository(root string, cacheSize int) (*ReportRepository, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *entities.ScanReport](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create report cache: %w", err)
	}
	return &ReportRepository{root: root, cache: cache}, nil
}

// Root returns the repository root
func (r *ReportRepository) Root() string {
	return r.root
}

// Save writes a new report version atomically and returns its path
func (r *ReportRepository) Save(ctx context.Context, report *entities.ScanReport) (string, error) {
	if err := validTarget(report.Target); err != nil {
		return "", fmt.Errorf("%w: %w", entities.ErrPersistFailed, err)
	}
	if err := report.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", entities.ErrPersistFailed, err)
	}

	dir := filepath.Join(r.root, report.Target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: failed to create %s: %w", entities.ErrPersistFailed, dir, err)
	}

	report.GeneratedAt = report.GeneratedAt.UTC()
	for range maxVersionAttempts {
		path := filepath.Join(dir, versionFileName(report.GeneratedAt))
		if _, err := os.Lstat(path); err == nil {
			report.GeneratedAt = report.GeneratedAt.Add(time.Nanosecond)
			continue
		}

		claimed, err := r.publish(ctx, dir, path, report)
		if err != nil {
			return "", err
		}
		if claimed {
			r.cache.Add(path, report)
			return path, nil
		}
		// Same-nanosecond collision: move GeneratedAt forward so the file
		// name and the report agree
		report.GeneratedAt = report.GeneratedAt.Add(time.Nanosecond)
	}
	return "", fmt.Errorf("%w: no free version slot for %s", entities.ErrPersistFailed, report.Target)
}

// publish writes report to a temp file and hard-links it to path. Link fails
// when path exists, so concurrent saves never replace each other's version;
// claimed is false in that case.
func (r *ReportRepository) publish(ctx context.Context, dir, path string, report *entities.ScanReport) (claimed bool, err error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return false, fmt.Errorf("%w: failed to encode report: %w", entities.ErrPersistFailed, err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return false, fmt.Errorf("%w: failed to create temp file: %w", entities.ErrPersistFailed, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // Best-effort cleanup; the version keeps its own link

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // Already failing
		return false, fmt.Errorf("%w: failed to write report: %w", entities.ErrPersistFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec // Already failing
		return false, fmt.Errorf("%w: failed to sync report: %w", entities.ErrPersistFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("%w: failed to close report: %w", entities.ErrPersistFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", entities.ErrPersistFailed, err)
	}

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to publish report: %w", entities.ErrPersistFailed, err)
	}
	return true, nil
}

// Load returns the latest report for target
func (r *ReportRepository) Load(ctx context.Context, target string) (*entities.ScanReport, error) {
	versions, err := r.List(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", entities.ErrReportNotFound, target)
	}
	return r.LoadVersion(ctx, target, versions[len(versions)-1])
}

// LoadVersion returns the report generated at ts.
// Returned reports are shared with the cache and must not be modified.
func (r *ReportRepository) LoadVersion(_ context.Context, target string, ts time.Time) (*entities.ScanReport, error) {
	if err := validTarget(target); err != nil {
		return nil, err
	}
	path := filepath.Join(r.root, target, versionFileName(ts))
	if report, ok := r.cache.Get(path); ok {
		return report, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path built from validated target
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s at %s", entities.ErrReportNotFound, target, ts.UTC().Format(time.RFC3339Nano))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}

	var report entities.ScanReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	if report.SchemaVersion > entities.ReportSchemaVersion {
		return nil, fmt.Errorf("report %s has unsupported schema version %d", path, report.SchemaVersion)
	}

	r.cache.Add(path, &report)
	return &report, nil
}

// List returns every stored version of target, oldest first
func (r *ReportRepository) List(_ context.Context, target string) ([]time.Time, error) {
	if err := validTarget(target); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(r.root, target))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", entities.ErrReportNotFound, target)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reports directory: %w", err)
	}

	versions := make([]time.Time, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ts, ok := parseVersionFileName(entry.Name()); ok {
			versions = append(versions, ts)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Before(versions[j]) })
	return versions, nil
}

// Targets returns every target with at least one report, sorted
func (r *ReportRepository) Targets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reports directory: %w", err)
	}

	targets := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if versions, err := r.List(ctx, entry.Name()); err == nil && len(versions) > 0 {
			targets = append(targets, entry.Name())
		}
	}
	return targets, nil
}

func versionFileName(ts time.Time) string {
	return ts.UTC().Format(versionLayout) + ".json"
}

func parseVersionFileName(name string) (time.Time, bool) {
	stem, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(versionLayout, stem)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func validTarget(target string) error {
	if target == "" || target == "." || target == ".." || strings.ContainsAny(target, `/\`) {
		return fmt.Errorf("invalid report target %q", target)
	}
	return nil
}
