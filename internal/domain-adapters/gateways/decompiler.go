package gateways

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
)

const (
	defaultApktoolTimeout = 10 * time.Minute
	defaultJadxTimeout    = 15 * time.Minute
	defaultJadxThreads    = 4
)

// ApktoolDecompiler produces the bytecode tree (smali, manifest, resources)
type ApktoolDecompiler struct {
	runner  *ProcessRunner
	binary  string
	timeout time.Duration
	logger  interfaces.Logger
}

// NewApktoolDecompiler creates the bytecode-tree decompiler
func NewApktoolDecompiler(runner *ProcessRunner, cfg entities.DecompilerConfig, logger interfaces.Logger) *ApktoolDecompiler {
	binary := cfg.Apktool
	if binary == "" {
		binary = "apktool"
	}
	timeout := cfg.ApktoolTimeout
	if timeout <= 0 {
		timeout = defaultApktoolTimeout
	}
	return &ApktoolDecompiler{runner: runner, binary: binary, timeout: timeout, logger: interfaces.OrNoOp(logger)}
}

// Tree returns the bytecode tree kind
func (d *ApktoolDecompiler) Tree() entities.TreeKind {
	return entities.TreeBytecode
}

// Decompile runs apktool into outDir and checks the manifest or smali output exists
func (d *ApktoolDecompiler) Decompile(ctx context.Context, archive, outDir string) error {
	result := d.runner.Run(ctx, ProcessSpec{
		Name:        d.binary,
		Args:        []string{"d", archive, "-o", outDir, "-f", "-q"},
		Timeout:     d.timeout,
		Description: "apktool decode",
	})
	if err := decompileRunError(result); err != nil {
		return err
	}

	verr := VerifyBytecodeTree(outDir)
	if !result.Success {
		if verr != nil {
			return fmt.Errorf("apktool exited %d: %s", result.ExitCode, tail(result.Stderr))
		}
		d.logger.Warn("apktool exited non-zero but produced output",
			interfaces.F("exit_code", result.ExitCode))
	}
	return verr
}

// JadxDecompiler produces the readable-source tree
type JadxDecompiler struct {
	runner  *ProcessRunner
	binary  string
	timeout time.Duration
	threads int
	logger  interfaces.Logger
}

// NewJadxDecompiler creates the source-tree decompiler
func NewJadxDecompiler(runner *ProcessRunner, cfg entities.DecompilerConfig, logger interfaces.Logger) *JadxDecompiler {
	binary := cfg.Jadx
	if binary == "" {
		binary = "jadx"
	}
	timeout := cfg.JadxTimeout
	if timeout <= 0 {
		timeout = defaultJadxTimeout
	}
	threads := cfg.JadxThreads
	if threads <= 0 {
		threads = defaultJadxThreads
	}
	return &JadxDecompiler{runner: runner, binary: binary, timeout: timeout, threads: threads, logger: interfaces.OrNoOp(logger)}
}

// Tree returns the source tree kind
func (d *JadxDecompiler) Tree() entities.TreeKind {
	return entities.TreeSource
}

// Decompile runs jadx into outDir. jadx reports per-class errors with a non-zero
// exit; the tree is accepted when its expected directories exist.
func (d *JadxDecompiler) Decompile(ctx context.Context, archive, outDir string) error {
	result := d.runner.Run(ctx, ProcessSpec{
		Name:        d.binary,
		Args:        []string{"-d", outDir, "-j", strconv.Itoa(d.threads), "-q", archive},
		Timeout:     d.timeout,
		Description: "jadx decompile",
	})
	if err := decompileRunError(result); err != nil {
		return err
	}

	verr := VerifySourceTree(outDir)
	if !result.Success {
		if verr != nil {
			return fmt.Errorf("jadx exited %d: %s", result.ExitCode, tail(result.Stderr))
		}
		d.logger.Warn("jadx exited non-zero but produced output",
			interfaces.F("exit_code", result.ExitCode))
	}
	return verr
}

// decompileRunError returns the error for runs that never produced a usable exit
func decompileRunError(result *ProcessResult) error {
	switch result.Status {
	case ProcessStartFailed, ProcessTimedOut, ProcessCanceled:
		return result.Error
	default:
		return nil
	}
}

// VerifyBytecodeTree checks for AndroidManifest.xml or a smali* directory
func VerifyBytecodeTree(dir string) error {
	if fileExists(filepath.Join(dir, "AndroidManifest.xml")) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("bytecode tree missing: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "smali") {
			return nil
		}
	}
	return errors.New("bytecode tree incomplete: no AndroidManifest.xml or smali directory")
}

// VerifySourceTree checks for the sources/ or resources/ directory
func VerifySourceTree(dir string) error {
	for _, name := range []string{"sources", "resources"} {
		if isDirectory(filepath.Join(dir, name)) {
			return nil
		}
	}
	return errors.New("source tree incomplete: no sources or resources directory")
}

// fileExists checks for a regular file
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// isDirectory checks if a path is a directory
func isDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// tail returns the last few lines of tool output for error messages
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, " | ")
}

var (
	_ gateways.Decompiler = (*ApktoolDecompiler)(nil)
	_ gateways.Decompiler = (*JadxDecompiler)(nil)
)
