package gateways

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
)

const (
	// DefaultReavsRepo is the upstream reAVS repository
	DefaultReavsRepo = "https://github.com/aimardcr/reAVS.git"

	reavsEntrypoint   = "avs.py"
	cloneTimeout      = 2 * time.Minute
	venvTimeout       = time.Minute
	pipInstallTimeout = 10 * time.Minute
	importTimeout     = 30 * time.Second
)

// ReavsRuntime is a provisioned reAVS checkout and the interpreter that runs it
type ReavsRuntime struct {
	Dir    string
	Python string
}

// ReavsResolver returns a ready-to-run reAVS runtime
type ReavsResolver interface {
	Ensure(ctx context.Context) (*ReavsRuntime, error)
}

// ReavsProvisioner locates reAVS and, when allowed, clones it and installs
// its dependencies into a virtual environment
type ReavsProvisioner struct {
	runner     *ProcessRunner
	cfg        entities.ReavsConfig
	git        string
	basePython string
	logger     interfaces.Logger

	mu       sync.Mutex
	resolved *ReavsRuntime
}

// NewReavsProvisioner creates a reAVS provisioner
func NewReavsProvisioner(runner *ProcessRunner, cfg entities.ReavsConfig, logger interfaces.Logger) *ReavsProvisioner {
	if cfg.RepoURL == "" {
		cfg.RepoURL = DefaultReavsRepo
	}
	basePython := "python3"
	if runtime.GOOS == "windows" {
		basePython = "python"
	}
	return &ReavsProvisioner{
		runner:     runner,
		cfg:        cfg,
		git:        "git",
		basePython: basePython,
		logger:     interfaces.OrNoOp(logger),
	}
}

// Ensure returns the reAVS runtime, provisioning it on first use
func (p *ReavsProvisioner) Ensure(ctx context.Context) (*ReavsRuntime, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resolved != nil {
		return p.resolved, nil
	}
	if p.cfg.Dir == "" {
		return nil, fmt.Errorf("%w: reAVS directory not configured", entities.ErrEngineUnavailable)
	}

	if !fileExists(filepath.Join(p.cfg.Dir, reavsEntrypoint)) {
		if !p.cfg.AutoSetup {
			return nil, fmt.Errorf("%w: %s not found in %s", entities.ErrEngineUnavailable, reavsEntrypoint, p.cfg.Dir)
		}
		if err := p.clone(ctx); err != nil {
			return nil, err
		}
	}

	python := p.cfg.Python
	if python == "" {
		python = findVenvPython(p.cfg.Dir)
	}
	if python == "" && p.cfg.AutoSetup {
		var err error
		if python, err = p.setupVenv(ctx); err != nil {
			return nil, err
		}
	}
	if python == "" {
		python = p.basePython
	}

	result := p.runner.Run(ctx, ProcessSpec{
		Name:        python,
		Args:        []string{"-c", "import androguard"},
		Dir:         p.cfg.Dir,
		Timeout:     importTimeout,
		Description: "reAVS dependency check",
	})
	if !result.Success {
		return nil, fmt.Errorf("%w: reAVS dependencies are not installed (androguard import failed): %s",
			entities.ErrEngineUnavailable, tail(result.Stderr))
	}

	p.resolved = &ReavsRuntime{Dir: p.cfg.Dir, Python: python}
	p.logger.Info("reAVS ready", interfaces.F("dir", p.cfg.Dir), interfaces.F("python", python))
	return p.resolved, nil
}

func (p *ReavsProvisioner) clone(ctx context.Context) error {
	if _, err := os.Stat(p.cfg.Dir); err == nil {
		if err := os.RemoveAll(p.cfg.Dir); err != nil {
			return fmt.Errorf("failed to remove incomplete reAVS checkout: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(p.cfg.Dir), 0750); err != nil {
		return fmt.Errorf("failed to create tools directory: %w", err)
	}

	p.logger.Info("cloning reAVS", interfaces.F("repo", p.cfg.RepoURL))
	result := p.runner.Run(ctx, ProcessSpec{
		Name:        p.git,
		Args:        []string{"clone", p.cfg.RepoURL, p.cfg.Dir},
		Timeout:     cloneTimeout,
		Description: "git clone reAVS",
	})
	if !result.Success {
		_ = os.RemoveAll(p.cfg.Dir)
		return fmt.Errorf("%w: reAVS clone failed: %s", entities.ErrEngineUnavailable, tail(result.Stderr))
	}
	if !fileExists(filepath.Join(p.cfg.Dir, reavsEntrypoint)) {
		return fmt.Errorf("%w: cloned reAVS has no %s", entities.ErrEngineUnavailable, reavsEntrypoint)
	}
	return nil
}

// setupVenv creates .venv and installs requirements.txt into it
func (p *ReavsProvisioner) setupVenv(ctx context.Context) (string, error) {
	venv := filepath.Join(p.cfg.Dir, ".venv")
	p.logger.Info("creating reAVS virtual environment", interfaces.F("dir", venv))

	result := p.runner.Run(ctx, ProcessSpec{
		Name:        p.basePython,
		Args:        []string{"-m", "venv", venv},
		Timeout:     venvTimeout,
		Description: "python venv",
	})
	if !result.Success {
		return "", fmt.Errorf("%w: failed to create venv: %s", entities.ErrEngineUnavailable, tail(result.Stderr))
	}

	python := findVenvPython(p.cfg.Dir)
	if python == "" {
		return "", fmt.Errorf("%w: venv has no python interpreter", entities.ErrEngineUnavailable)
	}

	requirements := filepath.Join(p.cfg.Dir, "requirements.txt")
	if !fileExists(requirements) {
		p.logger.Warn("reAVS has no requirements.txt, skipping dependency install")
		return python, nil
	}

	p.logger.Info("installing reAVS dependencies")
	result = p.runner.Run(ctx, ProcessSpec{
		Name:        python,
		Args:        []string{"-m", "pip", "install", "-r", requirements},
		Dir:         p.cfg.Dir,
		Timeout:     pipInstallTimeout,
		Description: "pip install reAVS requirements",
	})
	if !result.Success {
		return "", fmt.Errorf("%w: dependency install failed: %s", entities.ErrEngineUnavailable, tail(result.Stderr))
	}
	return python, nil
}

// findVenvPython returns the first virtual environment interpreter found in dir
func findVenvPython(dir string) string {
	candidates := []string{
		filepath.Join(dir, ".venv", "bin", "python"),
		filepath.Join(dir, "venv", "bin", "python"),
		filepath.Join(dir, ".venv", "bin", "python3"),
		filepath.Join(dir, "venv", "bin", "python3"),
		filepath.Join(dir, ".venv", "Scripts", "python.exe"),
		filepath.Join(dir, "venv", "Scripts", "python.exe"),
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c
		}
	}
	return ""
}
