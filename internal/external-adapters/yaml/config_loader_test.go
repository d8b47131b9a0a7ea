package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigLoader_MissingFileUsesDefaults(t *testing.T) {
	loader := NewConfigLoaderWithEnv("/opt/geiger", nil)

	cfg, err := loader.Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Threads != DefaultThreads || len(cfg.Engines) != 2 {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestConfigLoader_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `home: /from/file
threads: 2
reports_dir: /from/file/reports
`)
	loader := NewConfigLoaderWithEnv("/opt/geiger", map[string]string{
		"GEIGER_HOME":           "/from/env",
		"GEIGER_THREADS":        "6",
		"GEIGER_ALLOW_DEGRADED": "true",
		"GEIGER_S3_ENDPOINT":    "minio.local:9000",
		"GEIGER_S3_BUCKET":      "geiger-reports",
		"GEIGER_S3_USE_SSL":     "false",
	})

	cfg, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Home != "/from/env" {
		t.Errorf("Home = %s, want /from/env", cfg.Home)
	}
	if cfg.CacheDir != filepath.Join("/from/env", "cache") {
		t.Errorf("CacheDir = %s, derived dirs should follow GEIGER_HOME", cfg.CacheDir)
	}
	if cfg.ReportsDir != "/from/file/reports" {
		t.Errorf("ReportsDir = %s, explicit file value should survive", cfg.ReportsDir)
	}
	if cfg.Threads != 6 || !cfg.AllowDegraded {
		t.Errorf("Threads = %d, AllowDegraded = %v", cfg.Threads, cfg.AllowDegraded)
	}
	if !cfg.Mirror.Enabled || cfg.Mirror.Bucket != "geiger-reports" || cfg.Mirror.UseSSL {
		t.Errorf("Mirror = %+v", cfg.Mirror)
	}
}

func TestConfigLoader_InvalidEnv(t *testing.T) {
	loader := NewConfigLoaderWithEnv("/opt/geiger", map[string]string{
		"GEIGER_THREADS":        "many",
		"GEIGER_ALLOW_DEGRADED": "sometimes",
	})

	_, err := loader.Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err == nil {
		t.Fatal("Load() should fail")
	}
	if !strings.Contains(err.Error(), "GEIGER_THREADS") || !strings.Contains(err.Error(), "GEIGER_ALLOW_DEGRADED") {
		t.Errorf("error should name both variables: %v", err)
	}
}

func TestConfigLoader_ConfigPath(t *testing.T) {
	if got := NewConfigLoaderWithEnv("/opt/geiger", nil).ConfigPath(); got != filepath.Join("/opt/geiger", "config.yml") {
		t.Errorf("ConfigPath() = %s", got)
	}
	loader := NewConfigLoaderWithEnv("/opt/geiger", map[string]string{"GEIGER_CONFIG": "/etc/geiger.yml"})
	if got := loader.ConfigPath(); got != "/etc/geiger.yml" {
		t.Errorf("ConfigPath() = %s, want GEIGER_CONFIG", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GEIGER_TEST_DOTENV=loaded\nGEIGER_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEIGER_TEST_PRESET", "process")
	t.Setenv("GEIGER_TEST_DOTENV", "")
	os.Unsetenv("GEIGER_TEST_DOTENV") //nolint:errcheck,gosec // restored by t.Setenv cleanup

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("GEIGER_TEST_DOTENV"); got != "loaded" {
		t.Errorf("GEIGER_TEST_DOTENV = %q, want loaded", got)
	}
	if got := os.Getenv("GEIGER_TEST_PRESET"); got != "process" {
		t.Errorf("GEIGER_TEST_PRESET = %q, existing variables should win", got)
	}
}
