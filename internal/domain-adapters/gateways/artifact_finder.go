package gateways

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ArtifactFinder locates application archives for batch scans
type ArtifactFinder struct{}

// NewArtifactFinder creates a new artifact finder
func NewArtifactFinder() *ArtifactFinder {
	return &ArtifactFinder{}
}

// FindRecursive returns every .apk file below dir, sorted by path.
// Hidden directories (the decompile cache among them) are skipped.
func (f *ArtifactFinder) FindRecursive(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("artifacts directory does not exist: %s", dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifacts directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	var artifacts []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isArchive(info.Name()) {
			artifacts = append(artifacts, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(artifacts)
	return artifacts, nil
}

// FindByGlob returns archives matching pattern (e.g. "builds/*-release.apk")
func (f *ArtifactFinder) FindByGlob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}

	artifacts := make([]string, 0, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() && isArchive(m) {
			artifacts = append(artifacts, m)
		}
	}
	sort.Strings(artifacts)
	return artifacts, nil
}

func isArchive(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".apk")
}
