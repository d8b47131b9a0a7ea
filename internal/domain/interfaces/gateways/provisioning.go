package gateways

import (
	"context"
)

// Release is a published release of an engine binary
type Release struct {
	TagName string
	Assets  []ReleaseAsset
}

// ReleaseAsset is a downloadable release file
type ReleaseAsset struct {
	Name               string
	Size               int64
	BrowserDownloadURL string
}

// ReleaseFetcher reads release metadata from a release host
type ReleaseFetcher interface {
	// LatestRelease returns the newest non-draft release
	LatestRelease(ctx context.Context, owner, repo string) (*Release, error)

	// Download streams an asset into dest
	Download(ctx context.Context, assetURL, dest string) error
}

// TemplateProvider makes pattern-engine templates available on disk
type TemplateProvider interface {
	// Ensure returns the template directory, fetching or updating it first
	Ensure(ctx context.Context) (string, error)

	// Count returns the number of template files in the directory
	Count(dir string) (int, error)
}

// SignatureVerifier checks a detached signature over a file
type SignatureVerifier interface {
	VerifyDetached(ctx context.Context, filePath, signaturePath string) error
}
