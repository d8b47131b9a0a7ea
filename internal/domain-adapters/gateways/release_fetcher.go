package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ochairo/geiger/internal/domain/interfaces"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
)

const (
	// Max retries for transient errors
	maxRetries = 3
	// Initial backoff duration
	initialBackoff = 1 * time.Second
	// Max backoff duration
	maxBackoff = 32 * time.Second

	defaultGitHubAPI = "https://api.github.com"
)

// GitHubReleaseFetcher reads release metadata from the GitHub REST API
type GitHubReleaseFetcher struct {
	client     *http.Client
	baseURL    string
	token      string
	backoff    func(attempt int) time.Duration
	downloader *Downloader
	logger     interfaces.Logger
}

// NewGitHubReleaseFetcher creates a release fetcher. token may be empty.
func NewGitHubReleaseFetcher(token string, downloader *Downloader, logger interfaces.Logger) *GitHubReleaseFetcher {
	return &GitHubReleaseFetcher{
		client:     &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultGitHubAPI,
		token:      token,
		backoff:    calculateBackoff,
		downloader: downloader,
		logger:     interfaces.OrNoOp(logger),
	}
}

// WithBaseURL points the fetcher at another API root (GitHub Enterprise, tests)
func (g *GitHubReleaseFetcher) WithBaseURL(baseURL string) *GitHubReleaseFetcher {
	g.baseURL = strings.TrimRight(baseURL, "/")
	return g
}

// checkRateLimit checks GitHub API rate limit headers and returns error if exhausted
func (g *GitHubReleaseFetcher) checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil // No rate limit header, continue
	}

	remainingInt, err := strconv.Atoi(remaining)
	if err != nil {
		return nil // Invalid header, ignore
	}

	if remainingInt == 0 {
		resetTime := resp.Header.Get("X-RateLimit-Reset")
		if resetTime != "" {
			if resetUnix, err := strconv.ParseInt(resetTime, 10, 64); err == nil {
				resetAt := time.Unix(resetUnix, 0)
				return fmt.Errorf("GitHub API rate limit exceeded (0 remaining), resets at %s", resetAt.Format(time.RFC3339))
			}
		}
		return fmt.Errorf("GitHub API rate limit exceeded (0 remaining)")
	}

	if remainingInt <= 10 {
		g.logger.Warn("GitHub API rate limit low", interfaces.F("remaining", remainingInt))
	}

	return nil
}

// isRetryableError checks if an HTTP status code is retryable
func isRetryableError(statusCode int) bool {
	switch statusCode {
	case http.StatusForbidden, // 403 - rate limit
		http.StatusTooManyRequests,     // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// calculateBackoff returns the backoff duration for a retry attempt
func calculateBackoff(attempt int) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// doWithRetry executes an HTTP request with exponential backoff retry
func (g *GitHubReleaseFetcher) doWithRetry(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(g.backoff(attempt - 1)):
			}
		}

		resp, err = g.client.Do(req)
		if err != nil {
			// Network errors are retryable unless the caller gave up
			if attempt < maxRetries && req.Context().Err() == nil {
				continue
			}
			return nil, err
		}

		if rateLimitErr := g.checkRateLimit(resp); rateLimitErr != nil {
			//nolint:errcheck,gosec // G104: Best effort close on rate limit error
			resp.Body.Close()
			return nil, rateLimitErr
		}

		if !isRetryableError(resp.StatusCode) {
			return resp, nil
		}

		if attempt < maxRetries {
			//nolint:errcheck,gosec // G104: Best effort close before retry
			resp.Body.Close()
			continue
		}

		// Max retries reached
		return resp, nil
	}

	return resp, err
}

// githubRelease represents the GitHub API release format
type githubRelease struct {
	TagName    string        `json:"tag_name"`
	Draft      bool          `json:"draft"`
	Prerelease bool          `json:"prerelease"`
	Assets     []githubAsset `json:"assets"`
}

// githubAsset represents a GitHub release asset
type githubAsset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// LatestRelease retrieves the latest published release of owner/repo
func (g *GitHubReleaseFetcher) LatestRelease(ctx context.Context, owner, repo string) (*gateways.Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", g.baseURL, owner, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.doWithRetry(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest release: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no release found for %s/%s", owner, repo)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return nil, fmt.Errorf("HTTP %d: failed to read error response", resp.StatusCode)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	release := &gateways.Release{TagName: result.TagName}
	for _, a := range result.Assets {
		release.Assets = append(release.Assets, gateways.ReleaseAsset{
			Name:               a.Name,
			Size:               a.Size,
			BrowserDownloadURL: a.BrowserDownloadURL,
		})
	}
	return release, nil
}

// Download streams an asset into dest
func (g *GitHubReleaseFetcher) Download(ctx context.Context, assetURL, dest string) error {
	return g.downloader.DownloadFile(ctx, assetURL, dest)
}

var _ gateways.ReleaseFetcher = (*GitHubReleaseFetcher)(nil)
