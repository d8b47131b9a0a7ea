package gateways

import (
	"context"
	"testing"
)

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"nuclei banner", "[INF] Nuclei Engine Version: v3.1.0\n", "3.1.0", false},
		{"plain", "apktool 2.9.3", "2.9.3", false},
		{"two components", "jadx 1.5", "1.5", false},
		{"no version", "usage: tool [flags]", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ExtractVersion() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ExtractVersion() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"3.1.0", "3.0.0", 1},
		{"v2.9.15", "3.0.0", -1},
		{"3.0", "3.0.0", 0},
		{"1.10.0", "1.9.9", 1},
		{"3.2.0rc1", "3.2.0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.v1+"_vs_"+tt.v2, func(t *testing.T) {
			if got := CompareVersions(tt.v1, tt.v2); got != tt.want {
				t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.v1, tt.v2, got, tt.want)
			}
		})
	}
}

func TestVersionProbe_Version(t *testing.T) {
	skipOnWindows(t)
	tool := writeFakeTool(t, t.TempDir(), "nuclei", `echo "[INF] Nuclei Engine Version: v3.2.4" >&2`)

	got, err := NewVersionProbe(NewProcessRunner(nil)).Version(context.Background(), tool, "-version")
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if got != "3.2.4" {
		t.Errorf("Version() = %s, want 3.2.4", got)
	}
}

func TestVersionProbe_MissingBinary(t *testing.T) {
	_, err := NewVersionProbe(NewProcessRunner(nil)).Version(context.Background(), "/nonexistent/tool", "--version")
	if err == nil {
		t.Error("Version() should fail for a missing binary")
	}
}
