package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ochairo/geiger/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/geiger/internal/domain-orchestrators"
	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
	domaingateways "github.com/ochairo/geiger/internal/domain/interfaces/gateways"
	"github.com/ochairo/geiger/internal/domain/interfaces/repositories"
	"github.com/ochairo/geiger/internal/domain/interfaces/services"
	domainservices "github.com/ochairo/geiger/internal/domain/services"
	"github.com/ochairo/geiger/internal/external-adapters/gpg"
	"github.com/ochairo/geiger/internal/external-adapters/jsonstore"
	"github.com/ochairo/geiger/internal/external-adapters/logging"
	"github.com/ochairo/geiger/internal/external-adapters/s3"
	"github.com/ochairo/geiger/internal/external-adapters/yaml"
)

// app holds the wired components shared by all commands
type app struct {
	cfg        *entities.Config
	logger     interfaces.Logger
	runner     *gateways.ProcessRunner
	downloader *gateways.Downloader
	cache      *gateways.DecompileCache
	locator    *gateways.SourceLocator
	reports    *jsonstore.ReportRepository
}

// newApp loads configuration and wires the always-needed components
func newApp(opts *globalOptions) (*app, error) {
	logger, err := logging.New(logging.Options{Output: os.Stderr, Debug: opts.debug, Format: opts.logFormat})
	if err != nil {
		return nil, err
	}

	if err := yaml.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := yaml.NewConfigLoader().Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.threads > 0 {
		cfg.Threads = opts.threads
	}

	reports, err := jsonstore.NewReportRepository(cfg.ReportsDir, 0)
	if err != nil {
		return nil, err
	}

	runner := gateways.NewProcessRunner(logger)
	cache := gateways.NewDecompileCache(
		cfg.CacheDir,
		cfg.Threads,
		gateways.NewApktoolDecompiler(runner, cfg.Decompiler, logger),
		gateways.NewJadxDecompiler(runner, cfg.Decompiler, logger),
		logger,
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		runner:     runner,
		downloader: gateways.NewDownloader(logger),
		cache:      cache,
		locator:    gateways.NewSourceLocator(logger),
		reports:    reports,
	}, nil
}

// templateManager builds the template provider, with signature checks for bundles
func (a *app) templateManager(ctx context.Context) (*gateways.TemplateManager, error) {
	var verifier domaingateways.SignatureVerifier
	if a.cfg.Templates.BundleURL != "" {
		v := gpg.NewVerifier()
		if err := v.LoadKeyring(ctx, a.cfg.Templates.KeyringPath); err != nil {
			return nil, fmt.Errorf("failed to load template keyring: %w", err)
		}
		verifier = v
	}
	return gateways.NewTemplateManager(a.runner, a.downloader, verifier, a.cfg.Templates, a.logger), nil
}

// engines builds every known adapter; the registry keeps the enabled ones in declared order
func (a *app) engines(ctx context.Context) (domaingateways.EngineRegistry, error) {
	templates, err := a.templateManager(ctx)
	if err != nil {
		return nil, err
	}

	fetcher := gateways.NewGitHubReleaseFetcher(os.Getenv("GITHUB_TOKEN"), a.downloader, a.logger)
	installer := gateways.NewNucleiInstaller(a.runner, fetcher, a.downloader, a.cfg.Nuclei, a.logger)
	nucleiCfg, _ := a.cfg.Engine(entities.EngineNuclei)
	reavsCfg, _ := a.cfg.Engine(entities.EngineReavs)

	return gateways.NewEngineRegistry(a.cfg.Engines,
		gateways.NewNucleiAdapter(a.runner, installer, templates, a.cfg.Nuclei, nucleiCfg, a.logger),
		gateways.NewReavsAdapter(a.runner, gateways.NewReavsProvisioner(a.runner, a.cfg.Reavs, a.logger), a.cfg.Reavs, reavsCfg, a.logger),
	), nil
}

// findingsService builds the normalizer with configured severity and category overrides
func (a *app) findingsService(registry domaingateways.EngineRegistry) services.FindingsService {
	severities := make(map[entities.EngineID]entities.SeverityMap)
	categories := make(map[entities.EngineID]map[string]string)
	for _, adapter := range registry.Adapters() {
		severities[adapter.ID()] = adapter.SeverityMap()
	}
	for _, e := range a.cfg.Engines {
		if len(e.Categories) > 0 {
			categories[e.ID] = e.Categories
		}
	}
	return domainservices.NewFindingsService(a.cfg.Priority(), severities, categories)
}

// mirror returns the configured report mirror, or nil
func (a *app) mirror() (repositories.ReportMirror, error) {
	if !a.cfg.Mirror.Enabled {
		return nil, nil
	}
	m, err := s3.NewReportMirror(a.cfg.Mirror, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure report mirror: %w", err)
	}
	return m, nil
}

// scanner wires the scan orchestrator
func (a *app) scanner(ctx context.Context, allowDegraded bool, keepRaw string) (*orchestrators.ScanOrchestrator, error) {
	registry, err := a.engines(ctx)
	if err != nil {
		return nil, err
	}
	mirror, err := a.mirror()
	if err != nil {
		return nil, err
	}

	workRoot := filepath.Join(a.cfg.CacheDir, ".runs")
	if err := os.MkdirAll(workRoot, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create work root: %w", err)
	}

	return orchestrators.NewScanOrchestrator(
		gateways.NewFingerprinter(),
		a.cache,
		registry,
		a.locator,
		a.findingsService(registry),
		a.reports,
		mirror,
		orchestrators.ScanConfig{
			Threads:        a.cfg.Threads,
			PrepareTimeout: a.cfg.PrepareTimeout,
			Slots:          a.cache.Slots(),
			AllowDegraded:  allowDegraded || a.cfg.AllowDegraded,
			WorkRoot:       workRoot,
			KeepRawDir:     keepRaw,
			Engines:        a.cfg.Engines,
		},
		a.logger,
	), nil
}
