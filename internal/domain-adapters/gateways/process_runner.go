package gateways

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ochairo/geiger/internal/domain/interfaces"
)

// ProcessStatus is how a subprocess ended
type ProcessStatus string

const (
	ProcessExited      ProcessStatus = "exited"
	ProcessTimedOut    ProcessStatus = "timeout"
	ProcessCanceled    ProcessStatus = "canceled"
	ProcessStartFailed ProcessStatus = "start_failed"
)

const (
	// defaultWaitDelay bounds how long Wait blocks on I/O after the process group is killed
	defaultWaitDelay = 2 * time.Second
	// maxCapturedOutput caps each captured stream
	maxCapturedOutput = 4 << 20
)

// ProcessSpec describes one subprocess invocation
type ProcessSpec struct {
	Name        string
	Args        []string
	Dir         string
	Env         map[string]string
	Timeout     time.Duration
	Description string
}

// ProcessResult contains the result of one subprocess invocation
type ProcessResult struct {
	Status   ProcessStatus
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
}

// ProcessRunner runs external tools as scoped process groups.
// Every exit path (normal exit, timeout, cancellation) kills the whole group,
// so grandchildren spawned by a tool never outlive the call.
type ProcessRunner struct {
	waitDelay time.Duration
	logger    interfaces.Logger
}

// NewProcessRunner creates a new process runner
func NewProcessRunner(logger interfaces.Logger) *ProcessRunner {
	return &ProcessRunner{
		waitDelay: defaultWaitDelay,
		logger:    interfaces.OrNoOp(logger),
	}
}

// Run executes spec and waits for it to finish
func (r *ProcessRunner) Run(ctx context.Context, spec ProcessSpec) *ProcessResult {
	startTime := time.Now()
	result := &ProcessResult{ExitCode: -1}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	//nolint:gosec // G204: Tool invocation is intentional and controlled by configuration
	cmd := exec.CommandContext(runCtx, spec.Name, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		env := os.Environ()
		for key, value := range spec.Env {
			env = append(env, fmt.Sprintf("%s=%s", key, value))
		}
		cmd.Env = env
	}

	stdout := &cappedBuffer{limit: maxCapturedOutput}
	stderr := &cappedBuffer{limit: maxCapturedOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	configureProcessGroup(cmd)
	cmd.Cancel = func() error {
		terminateProcessGroup(cmd)
		return nil
	}
	cmd.WaitDelay = r.waitDelay

	r.logger.Debug("Starting process",
		interfaces.F("name", spec.Name),
		interfaces.F("args", strings.Join(spec.Args, " ")),
		interfaces.F("description", spec.Description))

	if err := cmd.Start(); err != nil {
		result.Status = ProcessStartFailed
		result.Error = fmt.Errorf("failed to start %s: %w", spec.Name, err)
		result.Duration = time.Since(startTime)
		return result
	}
	pid := cmd.Process.Pid

	err := cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		// exited cleanly but a descendant held the output pipes open
		err = nil
	}
	// The leader is gone; sweep anything it left behind in its group
	reapProcessGroup(pid)

	result.Duration = time.Since(startTime)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	switch {
	case err == nil:
		result.Status = ProcessExited
		result.Success = true
		result.ExitCode = 0
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = ProcessTimedOut
		result.Error = fmt.Errorf("%s timed out: %w", spec.Name, context.DeadlineExceeded)
	case ctx.Err() != nil:
		result.Status = ProcessCanceled
		result.Error = fmt.Errorf("%s canceled: %w", spec.Name, ctx.Err())
	default:
		result.Status = ProcessExited
		result.Error = err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
	}

	r.logger.Debug("Process finished",
		interfaces.F("name", spec.Name),
		interfaces.F("status", string(result.Status)),
		interfaces.F("exit_code", result.ExitCode),
		interfaces.F("duration", result.Duration.String()))

	return result
}

// LookPath resolves a tool name against PATH; absolute or relative paths are checked directly
func (r *ProcessRunner) LookPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("tool name is empty")
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		info, err := os.Stat(name)
		if err != nil {
			return "", fmt.Errorf("tool not found: %w", err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("tool path is a directory: %s", name)
		}
		return name, nil
	}
	return exec.LookPath(name)
}

// cappedBuffer keeps at most limit bytes and silently drops the rest
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
