package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
)

// mockIdentifier fingerprints by path
type mockIdentifier struct {
	err error
}

func (m *mockIdentifier) Artifact(path, packageID string) (*entities.Artifact, error) {
	if m.err != nil {
		return nil, m.err
	}
	if packageID == "" {
		packageID = "com.example.app"
	}
	return &entities.Artifact{PackageID: packageID, Fingerprint: "0123456789abcdef0123", Path: path}, nil
}

// mockCache returns a fixed entry or error
type mockCache struct {
	mu          sync.Mutex
	entry       *entities.CacheEntry
	err         error
	calls       int
	invalidated []string
}

func (m *mockCache) GetOrCreate(_ context.Context, artifact *entities.Artifact) (*entities.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	entry := *m.entry
	entry.Key = artifact.Key()
	return &entry, nil
}

func (m *mockCache) Invalidate(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, key)
	return nil
}

func (m *mockCache) List() ([]*entities.CacheEntry, error) { return nil, nil }
func (m *mockCache) Purge() error                          { return nil }

// mockRegistry keeps adapters in order
type mockRegistry struct {
	adapters []gateways.EngineAdapter
}

func (m *mockRegistry) Adapters() []gateways.EngineAdapter { return m.adapters }

func (m *mockRegistry) Adapter(id entities.EngineID) (gateways.EngineAdapter, bool) {
	for _, a := range m.adapters {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}

// mockAdapter is a scriptable engine
type mockAdapter struct {
	id         entities.EngineID
	requires   entities.TreeSet
	prepareErr error
	prepare    func(ctx context.Context) error
	invoke     func(ctx context.Context, opts gateways.InvokeOptions) (*entities.RawOutput, error)
	result     gateways.ParseResult

	mu       sync.Mutex
	invoked  int
	lastOpts gateways.InvokeOptions
}

func (m *mockAdapter) ID() entities.EngineID      { return m.id }
func (m *mockAdapter) Requires() entities.TreeSet { return m.requires }

func (m *mockAdapter) Prepare(ctx context.Context) error {
	if m.prepare != nil {
		return m.prepare(ctx)
	}
	return m.prepareErr
}

func (m *mockAdapter) Invoke(ctx context.Context, _ entities.ArtifactPaths, opts gateways.InvokeOptions) (*entities.RawOutput, error) {
	m.mu.Lock()
	m.invoked++
	m.lastOpts = opts
	m.mu.Unlock()

	if m.invoke != nil {
		return m.invoke(ctx, opts)
	}
	path := filepath.Join(opts.WorkDir, string(m.id)+".out")
	if err := os.WriteFile(path, []byte("raw"), 0o600); err != nil {
		return nil, err
	}
	return &entities.RawOutput{Engine: m.id, Path: path}, nil
}

func (m *mockAdapter) Parse(*entities.RawOutput) gateways.ParseResult { return m.result }
func (m *mockAdapter) SeverityMap() entities.SeverityMap              { return nil }

func (m *mockAdapter) invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoked
}

// blockUntilDone invokes that wait for the context to end
func blockUntilDone(started chan<- struct{}) func(context.Context, gateways.InvokeOptions) (*entities.RawOutput, error) {
	return func(ctx context.Context, _ gateways.InvokeOptions) (*entities.RawOutput, error) {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// mockReportRepository stores reports in memory
type mockReportRepository struct {
	mu      sync.Mutex
	saved   []*entities.ScanReport
	saveErr error
}

func (m *mockReportRepository) Save(_ context.Context, report *entities.ScanReport) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.saved = append(m.saved, report)
	return filepath.Join("reports", report.Target, report.GeneratedAt.Format(time.RFC3339Nano)+".json"), nil
}

func (m *mockReportRepository) Load(_ context.Context, target string) (*entities.ScanReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].Target == target {
			return m.saved[i], nil
		}
	}
	return nil, entities.ErrReportNotFound
}

func (m *mockReportRepository) LoadVersion(context.Context, string, time.Time) (*entities.ScanReport, error) {
	return nil, entities.ErrReportNotFound
}

func (m *mockReportRepository) List(context.Context, string) ([]time.Time, error) { return nil, nil }
func (m *mockReportRepository) Targets(context.Context) ([]string, error)         { return nil, nil }

func (m *mockReportRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

// mockMirror records mirrored locations
type mockMirror struct {
	mu        sync.Mutex
	locations []string
	err       error
}

func (m *mockMirror) Mirror(_ context.Context, _ *entities.ScanReport, localPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, localPath)
	return m.err
}

// recordingLogger keeps warnings for assertions
type recordingLogger struct {
	interfaces.NoOpLogger

	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, fields ...interfaces.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range fields {
		msg += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

var errBoom = errors.New("boom")
