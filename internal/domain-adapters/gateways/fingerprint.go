package gateways

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/geiger/internal/domain/entities"
)

// Fingerprinter derives artifact identity from archive bytes
type Fingerprinter struct{}

// NewFingerprinter creates a new fingerprinter
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

// Artifact fingerprints the archive at path.
// packageID overrides the identifier derived from the file name when non-empty.
func (f *Fingerprinter) Artifact(path, packageID string) (*entities.Artifact, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("archive path is a directory: %s", abs)
	}

	sum, err := f.Fingerprint(abs)
	if err != nil {
		return nil, err
	}

	id := SanitizePackageID(packageID)
	if id == "" {
		id = PackageIDFromPath(abs)
	}

	return &entities.Artifact{
		PackageID:   id,
		Fingerprint: sum,
		Path:        abs,
	}, nil
}

// Fingerprint returns the hex SHA256 of a file
func (f *Fingerprinter) Fingerprint(filePath string) (string, error) {
	//nolint:gosec // G304: File path is user-provided for fingerprinting
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum verifies a file's SHA256 checksum
func (f *Fingerprinter) VerifyChecksum(_ context.Context, filePath, expectedSum string) error {
	actualSum, err := f.Fingerprint(filePath)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actualSum, strings.TrimSpace(expectedSum)) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedSum, actualSum)
	}

	return nil
}

// PackageIDFromPath derives a package identifier from an archive file name
func PackageIDFromPath(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if id := SanitizePackageID(stem); id != "" {
		return id
	}
	return "artifact"
}

// SanitizePackageID lower-cases id and replaces characters outside [a-z0-9._-] with '_'
func SanitizePackageID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
