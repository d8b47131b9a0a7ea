// Package gateways defines interfaces for external service adapters.
package gateways

import (
	"context"

	"github.com/ochairo/geiger/internal/domain/entities"
)

// InvokeOptions carries per-run settings for one engine invocation
type InvokeOptions struct {
	// WorkDir is the run's private directory; raw output is written inside it
	WorkDir string
	// Targets overrides the trees the engine is pointed at
	Targets []entities.TreeKind
}

// ParseResult is the outcome of parsing one raw output.
// Malformed records never fail a parse; they are counted and sampled.
type ParseResult struct {
	Findings []entities.EngineFinding
	Skipped  int
	Warnings []string
}

// EngineAdapter wraps one analysis engine behind a uniform contract
type EngineAdapter interface {
	// ID returns the engine identifier
	ID() entities.EngineID

	// Requires returns the decompiled trees the engine needs
	Requires() entities.TreeSet

	// Prepare provisions the engine runtime (binaries, templates, interpreters)
	Prepare(ctx context.Context) error

	// Invoke runs the engine against the artifact and captures its raw output
	Invoke(ctx context.Context, paths entities.ArtifactPaths, opts InvokeOptions) (*entities.RawOutput, error)

	// Parse converts raw output to engine findings. Pure, no I/O besides reading raw.Path.
	Parse(raw *entities.RawOutput) ParseResult

	// SeverityMap returns the native-to-canonical severity table
	SeverityMap() entities.SeverityMap
}

// EngineRegistry resolves enabled engines in priority order
type EngineRegistry interface {
	Adapters() []EngineAdapter
	Adapter(id entities.EngineID) (EngineAdapter, bool)
}
