package orchestrators

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ochairo/geiger/internal/domain/entities"
)

func TestScanBatch(t *testing.T) {
	engine := &mockAdapter{id: entities.EngineNuclei}
	o := newTestOrchestrator(t, ScanConfig{Threads: 2}, engine)

	reqs := []ScanRequest{
		{Path: "/apks/a.apk", PackageID: "com.example.a"},
		{Path: "/apks/b.apk", PackageID: "com.example.b"},
		{Path: "/apks/c.apk", PackageID: "com.example.c"},
	}
	results, err := o.ScanBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("ScanBatch() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, r := range results {
		if r.Request.Path != reqs[i].Path {
			t.Errorf("results[%d] is for %s, want %s", i, r.Request.Path, reqs[i].Path)
		}
		if r.Report.Target != reqs[i].PackageID {
			t.Errorf("results[%d].Target = %s", i, r.Report.Target)
		}
	}
	if engine.invocations() != 3 {
		t.Errorf("invocations = %d, want 3", engine.invocations())
	}
}

func TestScanBatch_JoinsErrors(t *testing.T) {
	o := newTestOrchestrator(t, ScanConfig{Threads: 2}, &mockAdapter{id: entities.EngineNuclei})
	o.reports.saveErr = errBoom

	results, err := o.ScanBatch(context.Background(), []ScanRequest{{Path: "/apks/a.apk"}, {Path: "/apks/b.apk"}})
	if !errors.Is(err, entities.ErrPersistFailed) {
		t.Fatalf("ScanBatch() error = %v, want ErrPersistFailed", err)
	}
	if !strings.Contains(err.Error(), "/apks/a.apk") || !strings.Contains(err.Error(), "/apks/b.apk") {
		t.Errorf("error should name both artifacts: %v", err)
	}
	for _, r := range results {
		if r.Final() != StateFailed {
			t.Errorf("%s final state = %s, want failed", r.Request.Path, r.Final())
		}
	}
}
