package gateways

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ochairo/geiger/internal/domain/interfaces"
)

// maxExtractedFileSize caps each extracted file (decompression bomb guard)
const maxExtractedFileSize = 1 << 30

// userAgent is sent on every outbound HTTP request
const userAgent = "geiger/1.0"

// Downloader fetches and unpacks template bundles and engine release archives
type Downloader struct {
	httpClient *http.Client
	logger     interfaces.Logger
}

// NewDownloader creates a new downloader
func NewDownloader(logger interfaces.Logger) *Downloader {
	return &Downloader{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for large downloads
		},
		logger: interfaces.OrNoOp(logger),
	}
}

// DownloadFile downloads url to dest, replacing dest only when the transfer completes
func (d *Downloader) DownloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	tmp := dest + ".part"
	//nolint:gosec // G304: File path dest is function parameter for download destination
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	d.logger.Debug("Downloaded file",
		interfaces.F("file", filepath.Base(dest)),
		interfaces.F("bytes", written))
	return nil
}

// ExtractTarGz extracts a .tar.gz file to destination directory
func (d *Downloader) ExtractTarGz(tarPath, destDir string) error {
	//nolint:gosec // G304: File path tarPath is function parameter for extraction
	file, err := os.Open(tarPath)
	if err != nil {
		return fmt.Errorf("failed to open tar.gz: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	//nolint:errcheck // Defer close on gzip reader
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar read error: %w", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			//nolint:gosec // G115: Integer overflow from tar header mode is acceptable
			if err := writeExtracted(target, tr, os.FileMode(header.Mode)); err != nil {
				return err
			}

		default:
			// Templates are plain files; links and devices are never needed
			d.logger.Warn("Ignoring unsupported archive entry",
				interfaces.F("type", string(header.Typeflag)),
				interfaces.F("name", header.Name))
		}
	}

	return nil
}

// ExtractZipMember extracts the first zip entry whose base name equals member into dest
func (d *Downloader) ExtractZipMember(zipPath, member, dest string, mode os.FileMode) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	//nolint:errcheck // Defer close on read-only archive
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || filepath.Base(f.Name) != member {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in zip: %w", f.Name, err)
		}
		err = writeExtracted(dest, rc, mode)
		_ = rc.Close()
		return err
	}
	return fmt.Errorf("%s not found in %s", member, filepath.Base(zipPath))
}

// safeJoin joins name below root and rejects entries that escape it
func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, name)
	cleanRoot := filepath.Clean(root)
	if target != cleanRoot && !strings.HasPrefix(target, cleanRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	return target, nil
}

func writeExtracted(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	//nolint:gosec // G304: target is validated by safeJoin or chosen by the caller
	out, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, mode.Perm()|0600)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, io.LimitReader(r, maxExtractedFileSize)); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}
