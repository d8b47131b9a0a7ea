package gateways

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
)

const (
	// DefaultTemplateRepo hosts the mobile nuclei templates
	DefaultTemplateRepo = "https://github.com/optiv/mobile-nuclei-templates"

	gitTimeout    = 5 * time.Minute
	bundleArchive = "templates.tar.gz"
)

// TemplateManager provisions the pattern-engine template directory, either
// from a git repository or from a signed tar.gz bundle
type TemplateManager struct {
	runner     *ProcessRunner
	downloader *Downloader
	verifier   gateways.SignatureVerifier
	cfg        entities.TemplateConfig
	git        string
	logger     interfaces.Logger

	mu    sync.Mutex
	ready string
}

// NewTemplateManager creates a template manager. verifier may be nil when
// no bundle URL is configured.
func NewTemplateManager(
	runner *ProcessRunner,
	downloader *Downloader,
	verifier gateways.SignatureVerifier,
	cfg entities.TemplateConfig,
	logger interfaces.Logger,
) *TemplateManager {
	if cfg.RepoURL == "" {
		cfg.RepoURL = DefaultTemplateRepo
	}
	return &TemplateManager{
		runner:     runner,
		downloader: downloader,
		verifier:   verifier,
		cfg:        cfg,
		git:        "git",
		logger:     interfaces.OrNoOp(logger),
	}
}

// Ensure returns the template directory, cloning or updating it once per process
func (m *TemplateManager) Ensure(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready != "" {
		return m.ready, nil
	}
	if m.cfg.Dir == "" {
		return "", fmt.Errorf("%w: template directory not configured", entities.ErrEngineUnavailable)
	}

	var err error
	if m.cfg.BundleURL != "" {
		err = m.ensureBundle(ctx)
	} else {
		err = m.ensureRepo(ctx)
	}
	if err != nil {
		return "", err
	}

	m.ready = m.cfg.Dir
	return m.ready, nil
}

func (m *TemplateManager) ensureRepo(ctx context.Context) error {
	dir := m.cfg.Dir

	if isDirectory(filepath.Join(dir, ".git")) {
		if !m.cfg.Update {
			return nil
		}
		m.logger.Info("updating templates", interfaces.F("dir", dir))
		result := m.runner.Run(ctx, ProcessSpec{
			Name:        m.git,
			Args:        []string{"-C", dir, "pull", "--ff-only"},
			Timeout:     gitTimeout,
			Description: "git pull templates",
		})
		if !result.Success {
			// the checked-out copy is still usable
			m.logger.Warn("template update failed, using cached copy",
				interfaces.F("dir", dir),
				interfaces.F("stderr", tail(result.Stderr)))
		}
		return nil
	}

	if _, err := os.Stat(dir); err == nil {
		m.logger.Warn("template directory is not a git repository, recloning", interfaces.F("dir", dir))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove stale template directory: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0750); err != nil {
		return fmt.Errorf("failed to create template parent directory: %w", err)
	}

	m.logger.Info("cloning templates", interfaces.F("repo", m.cfg.RepoURL), interfaces.F("dir", dir))
	result := m.runner.Run(ctx, ProcessSpec{
		Name:        m.git,
		Args:        []string{"clone", "--depth", "1", m.cfg.RepoURL, dir},
		Timeout:     gitTimeout,
		Description: "git clone templates",
	})
	if !result.Success {
		_ = os.RemoveAll(dir)
		reason := tail(result.Stderr)
		if result.Error != nil {
			reason = result.Error.Error()
		}
		return fmt.Errorf("%w: template clone failed: %s", entities.ErrEngineUnavailable, reason)
	}
	return nil
}

func (m *TemplateManager) ensureBundle(ctx context.Context) error {
	dir := m.cfg.Dir
	cached := isDirectory(dir)
	if cached && !m.cfg.Update {
		return nil
	}

	err := m.fetchBundle(ctx, dir)
	if err == nil {
		return nil
	}
	if cached {
		m.logger.Warn("template bundle update failed, using cached copy",
			interfaces.F("dir", dir),
			interfaces.F("error", err.Error()))
		return nil
	}
	return fmt.Errorf("%w: %v", entities.ErrEngineUnavailable, err)
}

// fetchBundle downloads, verifies and extracts the bundle, then swaps it into dir
func (m *TemplateManager) fetchBundle(ctx context.Context, dir string) error {
	if m.cfg.SignatureURL == "" || m.verifier == nil {
		return fmt.Errorf("template bundle requires a signature URL and keyring")
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0750); err != nil {
		return fmt.Errorf("failed to create template parent directory: %w", err)
	}
	work, err := os.MkdirTemp(parent, ".templates-")
	if err != nil {
		return fmt.Errorf("failed to create bundle work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(work) }()

	archive := filepath.Join(work, bundleArchive)
	signature := archive + ".sig"
	if err := m.downloader.DownloadFile(ctx, m.cfg.BundleURL, archive); err != nil {
		return fmt.Errorf("failed to download template bundle: %w", err)
	}
	if err := m.downloader.DownloadFile(ctx, m.cfg.SignatureURL, signature); err != nil {
		return fmt.Errorf("failed to download bundle signature: %w", err)
	}
	if err := m.verifier.VerifyDetached(ctx, archive, signature); err != nil {
		return fmt.Errorf("template bundle rejected: %w", err)
	}

	tree := filepath.Join(work, "tree")
	if err := m.downloader.ExtractTarGz(archive, tree); err != nil {
		return fmt.Errorf("failed to extract template bundle: %w", err)
	}

	old := ""
	if _, err := os.Stat(dir); err == nil {
		old = filepath.Join(work, "old")
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("failed to move old templates aside: %w", err)
		}
	}
	if err := os.Rename(tree, dir); err != nil {
		if old != "" {
			_ = os.Rename(old, dir)
		}
		return fmt.Errorf("failed to install template bundle: %w", err)
	}

	m.logger.Info("template bundle installed", interfaces.F("dir", dir))
	return nil
}

// Count returns the number of .yaml/.yml template files below dir
func (m *TemplateManager) Count(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".yaml", ".yml":
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count templates: %w", err)
	}
	return count, nil
}
