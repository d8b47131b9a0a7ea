package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func isolatedHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("GEIGER_HOME", home)
	t.Setenv("GEIGER_CONFIG", filepath.Join(home, "config.yml"))
	return home
}

func TestRun_ExitCodes(t *testing.T) {
	isolatedHome(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"reports list on empty store", []string{"reports", "list"}, exitClean},
		{"cache list on empty cache", []string{"cache", "list"}, exitClean},
		{"unknown command", []string{"explode"}, exitError},
		{"scan missing file", []string{"scan", "/does/not/exist.apk"}, exitError},
		{"show missing report", []string{"reports", "show", "com.none"}, exitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(context.Background(), tt.args); got != tt.want {
				t.Errorf("run(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	home := isolatedHome(t)
	if err := os.WriteFile(filepath.Join(home, "config.yml"), []byte("threads: -3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := run(context.Background(), []string{"cache", "list"}); got != exitError {
		t.Errorf("run() = %d, want %d for an invalid config", got, exitError)
	}
}

func TestResolveArtifacts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.apk", "nested/b.APK", "notes.txt"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("PK"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := resolveArtifacts([]string{dir, filepath.Join(dir, "a.apk")})
	if err != nil {
		t.Fatalf("resolveArtifacts() error = %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("resolveArtifacts() = %v, want a.apk and nested/b.APK once each", paths)
	}

	paths, err = resolveArtifacts([]string{filepath.Join(dir, "*.apk")})
	if err != nil {
		t.Fatalf("resolveArtifacts(glob) error = %v", err)
	}
	if len(paths) != 1 {
		t.Errorf("glob matched %v, want a.apk", paths)
	}

	if _, err := resolveArtifacts([]string{filepath.Join(dir, "nested", "*.txt")}); err == nil {
		t.Error("a pattern matching no APK should fail")
	}
}
