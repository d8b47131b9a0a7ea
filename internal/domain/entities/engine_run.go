package entities

import (
	"time"
)

// RunStatus is the terminal state of one engine invocation
type RunStatus string

const (
	RunSuccess  RunStatus = "success"
	RunFailure  RunStatus = "failure"
	RunTimeout  RunStatus = "timeout"
	RunCanceled RunStatus = "canceled"
	RunSkipped  RunStatus = "skipped"
)

// ArtifactPaths is what an engine is invoked against
type ArtifactPaths struct {
	Archive     string
	BytecodeDir string
	SourceDir   string
	Available   TreeSet
}

// RawOutput is the unparsed result of one engine invocation
type RawOutput struct {
	Engine   EngineID
	Path     string // raw output file inside the run's work dir
	Data     []byte // contents of Path, read once the process has exited
	Stdout   string
	Stderr   string
	ExitCode int
}

// EngineRun records one invocation of one engine against one cache entry
type EngineRun struct {
	Engine        EngineID
	StartedAt     time.Time
	EndedAt       time.Time
	Status        RunStatus
	ExitCode      int
	RawOutputPath string
	Findings      []EngineFinding
	Skipped       int
	Warnings      []string
	Err           error
}

// Duration returns how long the run took
func (r *EngineRun) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the run produced usable findings
func (r *EngineRun) Succeeded() bool {
	return r.Status == RunSuccess
}
