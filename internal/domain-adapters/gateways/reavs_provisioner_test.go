package gateways

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ochairo/geiger/internal/domain/entities"
)

// fakeBasePython creates a venv by copying itself, records pip installs,
// and succeeds on any -c import check
const fakeBasePython = `if [ "$1" = "-m" ] && [ "$2" = "venv" ]; then mkdir -p "$3/bin" && cp "$0" "$3/bin/python"; exit $?; fi
if [ "$1" = "-m" ] && [ "$2" = "pip" ]; then echo "$5" > "$(dirname "$0")/../pip-installed"; exit 0; fi
if [ "$1" = "-c" ]; then exit 0; fi
exit 1`

const fakeReavsGit = `mkdir -p "$3" && echo "print('avs')" > "$3/avs.py" && echo "androguard" > "$3/requirements.txt"`

func TestReavsProvisioner_AutoSetup(t *testing.T) {
	skipOnWindows(t)
	dir := filepath.Join(t.TempDir(), "tools", "reAVS")

	p := NewReavsProvisioner(NewProcessRunner(nil), entities.ReavsConfig{Dir: dir, AutoSetup: true}, nil)
	p.git = writeFakeTool(t, t.TempDir(), "git", fakeReavsGit)
	p.basePython = writeFakeTool(t, t.TempDir(), "python3", fakeBasePython)

	rt, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if rt.Dir != dir {
		t.Errorf("Dir = %s, want %s", rt.Dir, dir)
	}
	if rt.Python != filepath.Join(dir, ".venv", "bin", "python") {
		t.Errorf("Python = %s, want venv interpreter", rt.Python)
	}
	got, err := os.ReadFile(filepath.Join(dir, ".venv", "pip-installed"))
	if err != nil {
		t.Fatalf("requirements were not installed: %v", err)
	}
	if string(got) != filepath.Join(dir, "requirements.txt")+"\n" {
		t.Errorf("pip installed %q", got)
	}

	// second call is memoized
	again, err := p.Ensure(context.Background())
	if err != nil || again != rt {
		t.Errorf("Ensure() should return the memoized runtime")
	}
}

func TestReavsProvisioner_ExistingVenv(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "avs.py"), []byte(""), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "venv", "bin"), 0750); err != nil {
		t.Fatal(err)
	}
	python := writeFakeTool(t, filepath.Join(dir, "venv", "bin"), "python3", `exit 0`)

	p := NewReavsProvisioner(NewProcessRunner(nil), entities.ReavsConfig{Dir: dir}, nil)
	rt, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if rt.Python != python {
		t.Errorf("Python = %s, want %s", rt.Python, python)
	}
}

func TestReavsProvisioner_MissingWithoutAutoSetup(t *testing.T) {
	p := NewReavsProvisioner(NewProcessRunner(nil), entities.ReavsConfig{Dir: t.TempDir()}, nil)
	if _, err := p.Ensure(context.Background()); !errors.Is(err, entities.ErrEngineUnavailable) {
		t.Errorf("Ensure() error = %v, want ErrEngineUnavailable", err)
	}
}

func TestReavsProvisioner_MissingDependencies(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "avs.py"), []byte(""), 0600); err != nil {
		t.Fatal(err)
	}
	python := writeFakeTool(t, t.TempDir(), "python", `echo "ModuleNotFoundError: No module named 'androguard'" >&2; exit 1`)

	p := NewReavsProvisioner(NewProcessRunner(nil), entities.ReavsConfig{Dir: dir, Python: python}, nil)
	if _, err := p.Ensure(context.Background()); !errors.Is(err, entities.ErrEngineUnavailable) {
		t.Errorf("Ensure() error = %v, want ErrEngineUnavailable", err)
	}
}

func TestReavsProvisioner_CloneFailure(t *testing.T) {
	skipOnWindows(t)
	dir := filepath.Join(t.TempDir(), "reAVS")
	p := NewReavsProvisioner(NewProcessRunner(nil), entities.ReavsConfig{Dir: dir, AutoSetup: true}, nil)
	p.git = writeFakeTool(t, t.TempDir(), "git", `echo "fatal: unable to access" >&2; exit 128`)

	if _, err := p.Ensure(context.Background()); !errors.Is(err, entities.ErrEngineUnavailable) {
		t.Errorf("Ensure() error = %v, want ErrEngineUnavailable", err)
	}
	if _, err := os.Stat(dir); err == nil {
		t.Error("failed clone should not leave a directory")
	}
}
