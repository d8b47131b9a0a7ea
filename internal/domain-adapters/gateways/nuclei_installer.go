package gateways

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
)

const (
	nucleiOwner = "projectdiscovery"
	nucleiRepo  = "nuclei"
)

// NucleiInstaller locates the nuclei binary, installing it from GitHub releases when allowed
type NucleiInstaller struct {
	runner  *ProcessRunner
	fetcher gateways.ReleaseFetcher
	unzip   *Downloader
	sums    *Fingerprinter
	cfg     entities.NucleiConfig
	goos    string
	goarch  string
	logger  interfaces.Logger

	mu       sync.Mutex
	resolved string
}

// NewNucleiInstaller creates a nuclei installer for the running platform
func NewNucleiInstaller(
	runner *ProcessRunner,
	fetcher gateways.ReleaseFetcher,
	unzip *Downloader,
	cfg entities.NucleiConfig,
	logger interfaces.Logger,
) *NucleiInstaller {
	return &NucleiInstaller{
		runner:  runner,
		fetcher: fetcher,
		unzip:   unzip,
		sums:    NewFingerprinter(),
		cfg:     cfg,
		goos:    runtime.GOOS,
		goarch:  runtime.GOARCH,
		logger:  interfaces.OrNoOp(logger),
	}
}

// Ensure returns a usable nuclei binary path.
// Lookup order: configured binary, PATH, install dir, then auto-install.
func (n *NucleiInstaller) Ensure(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.resolved != "" {
		return n.resolved, nil
	}

	if n.cfg.Binary != "" {
		path, err := n.runner.LookPath(n.cfg.Binary)
		if err != nil {
			return "", fmt.Errorf("%w: configured nuclei binary: %v", entities.ErrEngineUnavailable, err)
		}
		n.resolved = path
		return path, nil
	}

	if path, err := n.runner.LookPath(n.binaryName()); err == nil {
		n.resolved = path
		return path, nil
	}

	installed := filepath.Join(n.cfg.InstallDir, n.binaryName())
	if n.cfg.InstallDir != "" && fileExists(installed) {
		n.resolved = installed
		return installed, nil
	}

	if !n.cfg.AutoInstall || n.cfg.InstallDir == "" {
		return "", fmt.Errorf("%w: nuclei not found and auto-install is disabled", entities.ErrEngineUnavailable)
	}

	path, err := n.install(ctx, installed)
	if err != nil {
		return "", fmt.Errorf("%w: nuclei install failed: %v", entities.ErrEngineUnavailable, err)
	}
	n.resolved = path
	return path, nil
}

func (n *NucleiInstaller) install(ctx context.Context, dest string) (string, error) {
	release, err := n.fetcher.LatestRelease(ctx, nucleiOwner, nucleiRepo)
	if err != nil {
		return "", err
	}

	asset, err := n.selectAsset(release)
	if err != nil {
		return "", err
	}

	n.logger.Info("Installing nuclei",
		interfaces.F("version", release.TagName),
		interfaces.F("asset", asset.Name))

	if err := os.MkdirAll(n.cfg.InstallDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create install directory: %w", err)
	}
	archive := filepath.Join(n.cfg.InstallDir, asset.Name)
	if err := n.fetcher.Download(ctx, asset.BrowserDownloadURL, archive); err != nil {
		return "", err
	}
	//nolint:errcheck // Best effort cleanup of the downloaded archive
	defer os.Remove(archive)

	if err := n.verifyAsset(ctx, release, asset, archive); err != nil {
		return "", err
	}

	if err := n.unzip.ExtractZipMember(archive, n.binaryName(), dest, 0755); err != nil {
		return "", err
	}
	//nolint:gosec // G302: Installed binary must be executable
	if err := os.Chmod(dest, 0755); err != nil {
		return "", fmt.Errorf("failed to make nuclei executable: %w", err)
	}

	n.logger.Info("Nuclei installed", interfaces.F("path", dest))
	return dest, nil
}

// verifyAsset checks the archive against the release checksums file.
// Releases without one are installed with a warning.
func (n *NucleiInstaller) verifyAsset(ctx context.Context, release *gateways.Release, asset *gateways.ReleaseAsset, archive string) error {
	var sumsAsset *gateways.ReleaseAsset
	for i := range release.Assets {
		if strings.HasSuffix(release.Assets[i].Name, "_checksums.txt") {
			sumsAsset = &release.Assets[i]
			break
		}
	}
	if sumsAsset == nil {
		n.logger.Warn("No checksums published, skipping verification", interfaces.F("release", release.TagName))
		return nil
	}

	sumsPath := archive + ".sums"
	if err := n.fetcher.Download(ctx, sumsAsset.BrowserDownloadURL, sumsPath); err != nil {
		return fmt.Errorf("failed to download checksums: %w", err)
	}
	//nolint:errcheck // Best effort cleanup
	defer os.Remove(sumsPath)

	//nolint:gosec // G304: File path is constructed inside the install directory
	data, err := os.ReadFile(sumsPath)
	if err != nil {
		return fmt.Errorf("failed to read checksums: %w", err)
	}
	expected := checksumFor(string(data), asset.Name)
	if expected == "" {
		return fmt.Errorf("no checksum for %s in %s", asset.Name, sumsAsset.Name)
	}
	return n.sums.VerifyChecksum(ctx, archive, expected)
}

// checksumFor finds name in a sha256sum-style listing
func checksumFor(listing, name string) string {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && strings.TrimPrefix(fields[1], "*") == name {
			return fields[0]
		}
	}
	return ""
}

// AssetName returns the release asset name for version on this platform
func (n *NucleiInstaller) AssetName(version string) string {
	return fmt.Sprintf("nuclei_%s_%s_%s.zip", strings.TrimPrefix(version, "v"), n.releaseOS(), n.releaseArch())
}

// selectAsset picks the exact asset name, falling back to a loose match
func (n *NucleiInstaller) selectAsset(release *gateways.Release) (*gateways.ReleaseAsset, error) {
	version := strings.TrimPrefix(release.TagName, "v")
	want := n.AssetName(version)
	for i := range release.Assets {
		if release.Assets[i].Name == want {
			return &release.Assets[i], nil
		}
	}

	osName := strings.ToLower(n.releaseOS())
	arch := n.releaseArch()
	for i := range release.Assets {
		name := strings.ToLower(release.Assets[i].Name)
		if strings.Contains(name, version) &&
			strings.Contains(name, osName) &&
			strings.Contains(name, arch) &&
			strings.HasSuffix(name, ".zip") &&
			!strings.Contains(name, "checksums") {
			return &release.Assets[i], nil
		}
	}
	return nil, fmt.Errorf("no release asset %s in %s", want, release.TagName)
}

func (n *NucleiInstaller) releaseOS() string {
	switch n.goos {
	case "darwin":
		return "macOS"
	default:
		return n.goos
	}
}

func (n *NucleiInstaller) releaseArch() string {
	switch n.goarch {
	case "arm64":
		return "arm64"
	case "386":
		return "386"
	default:
		return "amd64"
	}
}

func (n *NucleiInstaller) binaryName() string {
	if n.goos == "windows" {
		return "nuclei.exe"
	}
	return "nuclei"
}
