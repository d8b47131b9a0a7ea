// Package s3 mirrors saved reports to S3-compatible object storage.
package s3

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
)

const defaultRegion = "us-east-1"

// ReportMirror implements repositories.ReportMirror with minio-go
type ReportMirror struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	logger interfaces.Logger

	initOnce sync.Once
	initErr  error
}

// NewReportMirror creates a mirror from the configured endpoint and bucket
func NewReportMirror(cfg entities.MirrorConfig, logger interfaces.Logger) (*ReportMirror, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &ReportMirror{
		client: client,
		bucket: bucket,
		region: region,
		prefix: "reports",
		logger: interfaces.OrNoOp(logger),
	}, nil
}

func (m *ReportMirror) ensureBucket(ctx context.Context) error {
	m.initOnce.Do(func() {
		exists, err := m.client.BucketExists(ctx, m.bucket)
		if err != nil {
			m.initErr = fmt.Errorf("failed to check bucket %s: %w", m.bucket, err)
			return
		}
		if exists {
			return
		}
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
			m.initErr = fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
		}
	})
	return m.initErr
}

// Mirror uploads the saved report file under reports/<target>/<version>.json
func (m *ReportMirror) Mirror(ctx context.Context, report *entities.ScanReport, localPath string) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}

	key := ObjectKey(m.prefix, report.Target, filepath.Base(localPath))
	info, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"fingerprint": report.Fingerprint,
			"cache-key":   report.CacheKey,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	m.logger.Debug("Report mirrored",
		interfaces.F("bucket", m.bucket),
		interfaces.F("key", key),
		interfaces.F("size", info.Size),
	)
	return nil
}

// ObjectKey joins key segments with forward slashes regardless of OS
func ObjectKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return path.Join(cleaned...)
}
