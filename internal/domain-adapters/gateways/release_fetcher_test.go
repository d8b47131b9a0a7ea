package gateways

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(serverURL string) *GitHubReleaseFetcher {
	f := NewGitHubReleaseFetcher("test-token", NewDownloader(nil), nil).WithBaseURL(serverURL)
	f.backoff = func(int) time.Duration { return time.Millisecond }
	return f
}

func TestGitHubReleaseFetcher_LatestRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/projectdiscovery/nuclei/releases/latest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "token test-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"tag_name":"v3.4.2","assets":[{"name":"nuclei_3.4.2_linux_amd64.zip","size":10,"browser_download_url":"https://example.invalid/a.zip"}]}`))
	}))
	defer server.Close()

	release, err := newTestFetcher(server.URL).LatestRelease(context.Background(), "projectdiscovery", "nuclei")
	if err != nil {
		t.Fatalf("LatestRelease() error = %v", err)
	}
	if release.TagName != "v3.4.2" {
		t.Errorf("TagName = %s", release.TagName)
	}
	if len(release.Assets) != 1 || release.Assets[0].Name != "nuclei_3.4.2_linux_amd64.zip" {
		t.Errorf("Assets = %+v", release.Assets)
	}
}

func TestGitHubReleaseFetcher_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"tag_name":"v1.0.0"}`))
	}))
	defer server.Close()

	release, err := newTestFetcher(server.URL).LatestRelease(context.Background(), "o", "r")
	if err != nil {
		t.Fatalf("LatestRelease() error = %v", err)
	}
	if release.TagName != "v1.0.0" {
		t.Errorf("TagName = %s", release.TagName)
	}
	if calls.Load() != 3 {
		t.Errorf("server called %d times, want 3", calls.Load())
	}
}

func TestGitHubReleaseFetcher_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	}))
	defer server.Close()

	if _, err := newTestFetcher(server.URL).LatestRelease(context.Background(), "o", "r"); err == nil {
		t.Fatal("Expected error for missing release, got nil")
	}
}

func TestGitHubReleaseFetcher_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestFetcher(server.URL).LatestRelease(context.Background(), "o", "r")
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Fatalf("error = %v, want rate limit error", err)
	}
	if calls.Load() != 1 {
		t.Errorf("exhausted rate limit must not be retried, got %d calls", calls.Load())
	}
}

func TestGitHubReleaseFetcher_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL)
	f.backoff = func(int) time.Duration { return time.Hour }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := f.LatestRelease(ctx, "o", "r"); err == nil {
		t.Error("LatestRelease() should fail when the context ends during backoff")
	}
}

func TestCalculateBackoff(t *testing.T) {
	if got := calculateBackoff(0); got != initialBackoff {
		t.Errorf("calculateBackoff(0) = %v, want %v", got, initialBackoff)
	}
	if got := calculateBackoff(2); got != 4*time.Second {
		t.Errorf("calculateBackoff(2) = %v, want 4s", got)
	}
	if got := calculateBackoff(20); got != maxBackoff {
		t.Errorf("calculateBackoff(20) = %v, want cap %v", got, maxBackoff)
	}
}
