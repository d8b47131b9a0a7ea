package orchestrators

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ochairo/geiger/internal/domain/interfaces"
)

// ScanBatch scans several artifacts concurrently, at most Threads at a time.
// Every request gets a result; the returned error joins the per-scan errors.
func (o *ScanOrchestrator) ScanBatch(ctx context.Context, reqs []ScanRequest) ([]*ScanResult, error) {
	results := make([]*ScanResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.config.Threads)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = o.Scan(ctx, req)
			return nil
		})
	}
	_ = g.Wait() // scan errors are recorded on each ScanResult

	var errs []error
	persisted := 0
	for _, r := range results {
		if r.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Request.Path, r.Error))
			continue
		}
		persisted++
	}

	o.logger.Info("Batch scan complete",
		interfaces.F("artifacts", len(reqs)),
		interfaces.F("persisted", persisted),
		interfaces.F("failed", len(errs)),
	)
	return results, errors.Join(errs...)
}
