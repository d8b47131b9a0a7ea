package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
	"github.com/ochairo/geiger/internal/domain/interfaces/repositories"
	"github.com/ochairo/geiger/internal/domain/interfaces/services"
)

// ArtifactIdentifier fingerprints an archive
type ArtifactIdentifier interface {
	Artifact(path, packageID string) (*entities.Artifact, error)
}

// DefaultPrepareTimeout bounds engine provisioning when no timeout is configured
const DefaultPrepareTimeout = 20 * time.Minute

// ScanConfig configures the scan orchestrator
type ScanConfig struct {
	Threads        int
	AllowDegraded  bool
	PrepareTimeout time.Duration
	WorkRoot       string
	KeepRawDir     string
	Engines        []entities.EngineConfig
	// Slots caps concurrent engine processes. Share it with the decompile
	// cache so decompiles and engine runs draw from one pool; nil means a
	// private pool of Threads slots.
	Slots *semaphore.Weighted
}

// ScanRequest is one artifact to scan
type ScanRequest struct {
	Path      string
	PackageID string
	// Engines restricts the scan to a subset of the enabled engines
	Engines []entities.EngineID
	// Rebuild discards the cache entry before scanning
	Rebuild bool
}

// ScanResult represents the outcome of one scan
type ScanResult struct {
	ID       string
	Request  ScanRequest
	Artifact *entities.Artifact
	Report   *entities.ScanReport
	Location string
	States   []ScanState
	Runs     []*entities.EngineRun
	Duration time.Duration
	Error    error
}

// Final returns the terminal state of the scan
func (r *ScanResult) Final() ScanState {
	if len(r.States) == 0 {
		return StateInit
	}
	return r.States[len(r.States)-1]
}

// ScanOrchestrator drives one artifact through cache, engines, merge and persist
type ScanOrchestrator struct {
	identifier ArtifactIdentifier
	cache      gateways.DecompileCache
	registry   gateways.EngineRegistry
	locator    gateways.SourceLocator
	findings   services.FindingsService
	reports    repositories.ReportRepository
	mirror     repositories.ReportMirror
	config     ScanConfig
	logger     interfaces.Logger
	now        func() time.Time
}

// NewScanOrchestrator creates a new scan orchestrator. locator and mirror may be nil.
func NewScanOrchestrator(
	identifier ArtifactIdentifier,
	cache gateways.DecompileCache,
	registry gateways.EngineRegistry,
	locator gateways.SourceLocator,
	findings services.FindingsService,
	reports repositories.ReportRepository,
	mirror repositories.ReportMirror,
	config ScanConfig,
	logger interfaces.Logger,
) *ScanOrchestrator {
	if config.Threads <= 0 {
		config.Threads = 1
	}
	if config.PrepareTimeout <= 0 {
		config.PrepareTimeout = DefaultPrepareTimeout
	}
	if config.Slots == nil {
		config.Slots = semaphore.NewWeighted(int64(config.Threads))
	}
	return &ScanOrchestrator{
		identifier: identifier,
		cache:      cache,
		registry:   registry,
		locator:    locator,
		findings:   findings,
		reports:    reports,
		mirror:     mirror,
		config:     config,
		logger:     interfaces.OrNoOp(logger),
		now:        time.Now,
	}
}

// Scan runs every selected engine against one artifact and persists the merged report.
// A scan that reaches Persisted has a nil Error even when engines failed; those
// failures are recorded in the report.
func (o *ScanOrchestrator) Scan(ctx context.Context, req ScanRequest) *ScanResult {
	startTime := time.Now()
	sm := NewStateMachine()
	result := &ScanResult{ID: uuid.NewString(), Request: req}
	defer func() {
		result.States = sm.States()
		result.Duration = time.Since(startTime)
	}()

	log := scopedLogger{base: o.logger, fields: []interfaces.Field{interfaces.F("scan", result.ID)}}

	adapters, err := o.selectAdapters(req.Engines)
	if err != nil {
		result.Error = err
		return result
	}

	fail := func(to ScanState, err error) *ScanResult {
		if ctx.Err() != nil {
			to = StateCanceled
			err = fmt.Errorf("scan canceled: %w", ctx.Err())
		}
		if tErr := sm.Transition(to); tErr != nil {
			log.Error("Unexpected state transition", interfaces.F("error", tErr))
		}
		result.Error = err
		log.Warn("Scan stopped", interfaces.F("state", to), interfaces.F("error", err))
		return result
	}

	// Caching
	o.mustTransition(sm, StateCaching, log)
	artifact, err := o.identifier.Artifact(req.Path, req.PackageID)
	if err != nil {
		return fail(StateFailed, fmt.Errorf("failed to identify artifact: %w", err))
	}
	result.Artifact = artifact
	log.fields = append(log.fields, interfaces.F("target", artifact.Key()))
	log.Info("Scanning artifact", interfaces.F("path", artifact.Path))

	if req.Rebuild {
		if err := o.cache.Invalidate(artifact.Key()); err != nil {
			return fail(StateFailed, fmt.Errorf("failed to invalidate cache entry: %w", err))
		}
	}

	entry, degraded, err := o.resolveEntry(ctx, artifact, log)
	if err != nil {
		return fail(StateFailed, err)
	}

	// Scanning
	o.mustTransition(sm, StateScanning, log)
	paths := entities.ArtifactPaths{Archive: artifact.Path, Available: entry.Available()}
	if entry.BytecodeComplete {
		paths.BytecodeDir = entry.BytecodeDir
	}
	if entry.SourceComplete {
		paths.SourceDir = entry.SourceDir
	}

	runs := o.dispatch(ctx, adapters, paths, artifact.Key(), log)
	result.Runs = runs
	if ctx.Err() != nil {
		return fail(StateCanceled, nil)
	}

	// Merging
	o.mustTransition(sm, StateMerging, log)
	report := o.buildReport(artifact, entry, degraded, runs, log)
	if err := report.Validate(); err != nil {
		return fail(StateFailed, fmt.Errorf("%w: invalid report: %w", entities.ErrPersistFailed, err))
	}
	result.Report = report

	location, err := o.reports.Save(ctx, report)
	if err != nil {
		if !errors.Is(err, entities.ErrPersistFailed) {
			err = fmt.Errorf("%w: %w", entities.ErrPersistFailed, err)
		}
		return fail(StateFailed, err)
	}
	result.Location = location
	o.mustTransition(sm, StatePersisted, log)

	if o.mirror != nil {
		if err := o.mirror.Mirror(ctx, report, location); err != nil {
			log.Warn("Failed to mirror report", interfaces.F("error", err))
		}
	}

	log.Info("Scan complete",
		interfaces.F("findings", report.Total()),
		interfaces.F("engine_errors", len(report.EngineErrors)),
		interfaces.F("report", location),
	)
	return result
}

// resolveEntry returns the cache entry to scan, or the partial entry in degraded mode
func (o *ScanOrchestrator) resolveEntry(ctx context.Context, artifact *entities.Artifact, log scopedLogger) (*entities.CacheEntry, bool, error) {
	entry, err := o.cache.GetOrCreate(ctx, artifact)
	if err == nil {
		return entry, false, nil
	}

	var decompileErr *entities.DecompileError
	if errors.As(err, &decompileErr) && decompileErr.Partial != nil && o.config.AllowDegraded {
		log.Warn("Decompilation incomplete, scanning in degraded mode", interfaces.F("error", err))
		return decompileErr.Partial, true, nil
	}
	return nil, false, fmt.Errorf("failed to prepare decompiled trees: %w", err)
}

// dispatch runs adapters concurrently. Each run owns one entry of the returned
// slice; process slots bound how many run at once.
func (o *ScanOrchestrator) dispatch(ctx context.Context, adapters []gateways.EngineAdapter, paths entities.ArtifactPaths, label string, log scopedLogger) []*entities.EngineRun {
	runs := make([]*entities.EngineRun, len(adapters))

	var g errgroup.Group
	for i, adapter := range adapters {
		g.Go(func() error {
			runs[i] = o.runAdapter(ctx, adapter, paths, label, log)
			return nil
		})
	}
	_ = g.Wait() // run errors are recorded on each EngineRun

	return runs
}

func (o *ScanOrchestrator) runAdapter(ctx context.Context, adapter gateways.EngineAdapter, paths entities.ArtifactPaths, label string, log scopedLogger) *entities.EngineRun {
	id := adapter.ID()

	if ctx.Err() != nil {
		return stoppedRun(id, entities.RunCanceled, ctx.Err())
	}
	if need := adapter.Requires(); !paths.Available.Has(need) {
		log.Warn("Skipping engine, required tree missing", interfaces.F("engine", id))
		return stoppedRun(id, entities.RunSkipped,
			fmt.Errorf("%w: required decompiled tree is missing", entities.ErrEngineUnavailable))
	}
	if err := o.config.Slots.Acquire(ctx, 1); err != nil {
		return stoppedRun(id, entities.RunCanceled, err)
	}
	defer o.config.Slots.Release(1)

	if err := o.prepare(ctx, adapter); err != nil {
		if ctx.Err() != nil {
			return stoppedRun(id, entities.RunCanceled, ctx.Err())
		}
		if !errors.Is(err, entities.ErrEngineUnavailable) {
			err = fmt.Errorf("%w: %w", entities.ErrEngineUnavailable, err)
		}
		log.Warn("Engine unavailable", interfaces.F("engine", id), interfaces.F("error", err))
		return stoppedRun(id, entities.RunFailure, err)
	}

	opts := RunOptions{WorkRoot: o.config.WorkRoot, KeepRawDir: o.config.KeepRawDir, Label: label}
	if cfg, ok := o.engineConfig(id); ok {
		opts.Timeout = cfg.Timeout
		opts.Targets = cfg.Targets
	}
	return RunEngine(ctx, adapter, paths, opts, log)
}

// prepare provisions an adapter within the prepare timeout
func (o *ScanOrchestrator) prepare(ctx context.Context, adapter gateways.EngineAdapter) error {
	prepCtx, cancel := context.WithTimeout(ctx, o.config.PrepareTimeout)
	defer cancel()

	err := adapter.Prepare(prepCtx)
	if err != nil && ctx.Err() == nil && errors.Is(prepCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: provisioning did not finish within %v", entities.ErrEngineUnavailable, o.config.PrepareTimeout)
	}
	return err
}

// buildReport anchors, normalizes and merges every run's findings
func (o *ScanOrchestrator) buildReport(artifact *entities.Artifact, entry *entities.CacheEntry, degraded bool, runs []*entities.EngineRun, log scopedLogger) *entities.ScanReport {
	sets := make([][]entities.Finding, 0, len(runs))
	for _, run := range runs {
		if !run.Succeeded() || len(run.Findings) == 0 {
			continue
		}
		findings := run.Findings
		if o.locator != nil {
			findings = o.locator.Anchor(entry, findings)
		}
		normalized, warnings := o.findings.Normalize(run.Engine, findings)
		for _, w := range warnings {
			log.Warn("Finding normalized with a warning", interfaces.F("engine", run.Engine), interfaces.F("warning", w))
		}
		run.Warnings = append(run.Warnings, warnings...)
		sets = append(sets, normalized)
	}

	report := &entities.ScanReport{
		SchemaVersion: entities.ReportSchemaVersion,
		Target:        artifact.PackageID,
		PackageID:     artifact.PackageID,
		Fingerprint:   artifact.Fingerprint,
		GeneratedAt:   o.now().UTC(),
		CacheKey:      artifact.Key(),
		Degraded:      degraded,
	}
	o.findings.Summarize(report, o.findings.Merge(sets...), runs)
	return report
}

// selectAdapters returns the enabled adapters, restricted to ids when given
func (o *ScanOrchestrator) selectAdapters(ids []entities.EngineID) ([]gateways.EngineAdapter, error) {
	if len(ids) == 0 {
		return o.registry.Adapters(), nil
	}
	want := make(map[entities.EngineID]bool, len(ids))
	for _, id := range ids {
		if _, ok := o.registry.Adapter(id); !ok {
			return nil, fmt.Errorf("%w: engine %q is not enabled", entities.ErrEngineUnavailable, id)
		}
		want[id] = true
	}
	// keep registry order so merge priority does not depend on the request
	var selected []gateways.EngineAdapter
	for _, a := range o.registry.Adapters() {
		if want[a.ID()] {
			selected = append(selected, a)
		}
	}
	return selected, nil
}

func (o *ScanOrchestrator) engineConfig(id entities.EngineID) (entities.EngineConfig, bool) {
	for _, e := range o.config.Engines {
		if e.ID == id {
			return e, true
		}
	}
	return entities.EngineConfig{}, false
}

func (o *ScanOrchestrator) mustTransition(sm *StateMachine, to ScanState, log scopedLogger) {
	if err := sm.Transition(to); err != nil {
		log.Error("Unexpected state transition", interfaces.F("error", err))
		return
	}
	log.Debug("Scan state changed", interfaces.F("state", to))
}

func stoppedRun(id entities.EngineID, status entities.RunStatus, err error) *entities.EngineRun {
	now := time.Now()
	return &entities.EngineRun{Engine: id, StartedAt: now, EndedAt: now, Status: status, Err: err}
}

// scopedLogger adds fixed fields to every entry
type scopedLogger struct {
	base   interfaces.Logger
	fields []interfaces.Field
}

func (l scopedLogger) with(fields []interfaces.Field) []interfaces.Field {
	out := make([]interfaces.Field, 0, len(l.fields)+len(fields))
	return append(append(out, l.fields...), fields...)
}

func (l scopedLogger) Debug(msg string, fields ...interfaces.Field) { l.base.Debug(msg, l.with(fields)...) }
func (l scopedLogger) Info(msg string, fields ...interfaces.Field)  { l.base.Info(msg, l.with(fields)...) }
func (l scopedLogger) Warn(msg string, fields ...interfaces.Field)  { l.base.Warn(msg, l.with(fields)...) }
func (l scopedLogger) Error(msg string, fields ...interfaces.Field) { l.base.Error(msg, l.with(fields)...) }
