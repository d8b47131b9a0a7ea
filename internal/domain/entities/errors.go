package entities

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDecompileFailed is matched by every *DecompileError
	ErrDecompileFailed = errors.New("decompile failed")
	// ErrEngineInvokeFailed means the engine process could not run or exited non-zero
	ErrEngineInvokeFailed = errors.New("engine invocation failed")
	// ErrEngineTimeout means the engine exceeded its time bound and was killed
	ErrEngineTimeout = errors.New("engine timed out")
	// ErrEngineUnavailable means the engine's runtime could not be provisioned
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrPersistFailed means the report could not be written
	ErrPersistFailed = errors.New("persist failed")
	// ErrReportNotFound means no report exists for the target
	ErrReportNotFound = errors.New("report not found")
	// ErrLocationUnresolved means a finding location does not map to a file in the trees
	ErrLocationUnresolved = errors.New("location unresolved")
)

// DecompileStep describes one failed decompiler sub-step
type DecompileStep struct {
	Tree TreeKind
	Err  error
}

// DecompileError reports which decompiler sub-steps failed.
// Partial is set when exactly one tree completed; it is never published
// in the cache and is only usable for a degraded scan.
type DecompileError struct {
	Key     string
	Steps   []DecompileStep
	Partial *CacheEntry
}

func (e *DecompileError) Error() string {
	parts := make([]string, 0, len(e.Steps))
	for _, s := range e.Steps {
		parts = append(parts, fmt.Sprintf("%s: %v", s.Tree, s.Err))
	}
	return fmt.Sprintf("decompile %s failed (%s)", e.Key, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrDecompileFailed) hold
func (e *DecompileError) Is(target error) bool {
	return target == ErrDecompileFailed
}

// Failed reports whether the given tree's sub-step failed
func (e *DecompileError) Failed(tree TreeKind) bool {
	for _, s := range e.Steps {
		if s.Tree == tree {
			return true
		}
	}
	return false
}
