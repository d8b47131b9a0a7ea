package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
)

// RunOptions configures one engine run
type RunOptions struct {
	Timeout time.Duration
	Targets []entities.TreeKind
	// WorkRoot is the parent of the run's private work directory (os.TempDir when empty)
	WorkRoot string
	// KeepRawDir, when set, receives a copy of the raw output before the work dir is removed
	KeepRawDir string
	// Label prefixes the kept raw output file name
	Label string
}

// RunEngine invokes one adapter and parses its output.
// It never returns nil; failures are recorded on the run.
func RunEngine(ctx context.Context, adapter gateways.EngineAdapter, paths entities.ArtifactPaths, opts RunOptions, logger interfaces.Logger) *entities.EngineRun {
	logger = interfaces.OrNoOp(logger)
	run := &entities.EngineRun{
		Engine:    adapter.ID(),
		StartedAt: time.Now(),
	}
	defer func() { run.EndedAt = time.Now() }()

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	workDir, err := os.MkdirTemp(opts.WorkRoot, fmt.Sprintf("run-%s-", run.Engine))
	if err != nil {
		run.Status = entities.RunFailure
		run.Err = fmt.Errorf("%w: failed to create work dir: %w", entities.ErrEngineInvokeFailed, err)
		return run
	}
	defer os.RemoveAll(workDir) //nolint:errcheck // Best-effort cleanup

	logger.Debug("Invoking engine",
		interfaces.F("engine", run.Engine),
		interfaces.F("timeout", opts.Timeout),
	)

	raw, err := adapter.Invoke(runCtx, paths, gateways.InvokeOptions{WorkDir: workDir, Targets: opts.Targets})
	if raw != nil {
		run.ExitCode = raw.ExitCode
	}
	if err != nil {
		run.Status, run.Err = classifyRunError(ctx, runCtx, err)
		logger.Warn("Engine run did not complete",
			interfaces.F("engine", run.Engine),
			interfaces.F("status", run.Status),
			interfaces.F("error", run.Err),
		)
		return run
	}

	res := adapter.Parse(raw)
	run.Status = entities.RunSuccess
	run.Findings = res.Findings
	run.Skipped = res.Skipped
	run.Warnings = res.Warnings
	for _, w := range res.Warnings {
		logger.Warn("Engine output warning", interfaces.F("engine", run.Engine), interfaces.F("warning", w))
	}

	if opts.KeepRawDir != "" && raw.Path != "" {
		kept, keepErr := keepRawOutput(raw.Path, opts.KeepRawDir, opts.Label)
		if keepErr != nil {
			logger.Warn("Failed to keep raw output", interfaces.F("engine", run.Engine), interfaces.F("error", keepErr))
		} else {
			run.RawOutputPath = kept
		}
	}

	logger.Info("Engine run finished",
		interfaces.F("engine", run.Engine),
		interfaces.F("findings", len(run.Findings)),
		interfaces.F("skipped", run.Skipped),
		interfaces.F("duration", time.Since(run.StartedAt).Round(time.Millisecond)),
	)
	return run
}

// classifyRunError maps an invoke error to a run status.
// parent is the scan context; runCtx carries the engine timeout.
func classifyRunError(parent, runCtx context.Context, err error) (entities.RunStatus, error) {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return entities.RunCanceled, parent.Err()
	case errors.Is(err, entities.ErrEngineTimeout), errors.Is(runCtx.Err(), context.DeadlineExceeded):
		if !errors.Is(err, entities.ErrEngineTimeout) {
			err = fmt.Errorf("%w: %w", entities.ErrEngineTimeout, err)
		}
		return entities.RunTimeout, err
	default:
		return entities.RunFailure, err
	}
}

func keepRawOutput(src, dir, label string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create raw output dir: %w", err)
	}
	name := filepath.Base(src)
	if label != "" {
		name = label + "-" + name
	}
	dst := filepath.Join(dir, name)

	in, err := os.Open(src) //nolint:gosec // G304: path comes from the engine adapter
	if err != nil {
		return "", fmt.Errorf("failed to open raw output: %w", err)
	}
	defer in.Close() //nolint:errcheck // Defer close

	out, err := os.Create(dst) //nolint:gosec // G304: path built from configured dir
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck,gosec // Already failing
		return "", fmt.Errorf("failed to copy raw output: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return dst, nil
}
