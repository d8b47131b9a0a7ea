package gateways

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
)

const nucleiOutput = `{"template-id":"webview-javascript","template-path":"/t/android/webview.yaml","info":{"name":"WebView JavaScript enabled","severity":"medium","description":"JS enabled","tags":"android,webview","reference":["https://example.invalid/webview"]},"matched-at":"BYTECODE/smali/com/example/MainActivity.smali","matched-line":[42],"extracted-results":["setJavaScriptEnabled"],"timestamp":"2026-03-01T12:00:00Z"}
this is not json
{"template-id":"firebase-url","info":{"name":"Firebase database","severity":"info","tags":["firebase"],"reference":null},"matched-at":"BYTECODE/res/values/strings.xml:17","extracted-results":["https://demo.firebaseio.com"]}
{"info":{"name":"missing id"}}
`

// fakeNucleiScript answers -version and writes the canned JSONL to the -o target.
// It records its arguments in args.txt inside the working directory.
func fakeNucleiScript(exitCode string, writeOutput bool) string {
	body := `if [ "$1" = "-version" ]; then echo "[INF] Nuclei Engine Version: v3.2.0" >&2; exit 0; fi
echo "$@" > args.txt
out=""
target=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift ;;
    -target) target="$2"; shift ;;
  esac
  shift
done
`
	if writeOutput {
		body += "cat > \"$out\" <<'EOF'\n" + nucleiOutput + "EOF\n" +
			`sed -i.bak "s#BYTECODE#$target#g" "$out" && rm -f "$out.bak"` + "\n"
	}
	return body + "exit " + exitCode
}

type staticResolver struct {
	path string
	err  error
}

func (r staticResolver) Ensure(context.Context) (string, error) {
	return r.path, r.err
}

type mockTemplateProvider struct {
	dir   string
	count int
	err   error
}

func (m *mockTemplateProvider) Ensure(context.Context) (string, error) {
	return m.dir, m.err
}

func (m *mockTemplateProvider) Count(string) (int, error) {
	return m.count, nil
}

func newTestNucleiAdapter(t *testing.T, script string, cfg entities.NucleiConfig) *NucleiAdapter {
	t.Helper()
	binary := writeFakeTool(t, t.TempDir(), "nuclei", script)
	templates := &mockTemplateProvider{dir: t.TempDir(), count: 12}
	return NewNucleiAdapter(NewProcessRunner(nil), staticResolver{path: binary}, templates, cfg,
		entities.EngineConfig{ID: entities.EngineNuclei}, nil)
}

func testArtifactPaths(t *testing.T) entities.ArtifactPaths {
	t.Helper()
	root := t.TempDir()
	paths := entities.ArtifactPaths{
		Archive:     filepath.Join(root, "app.apk"),
		BytecodeDir: filepath.Join(root, "bytecode"),
		SourceDir:   filepath.Join(root, "source"),
		Available:   entities.NeedBytecode | entities.NeedSource,
	}
	for _, dir := range []string{paths.BytecodeDir, paths.SourceDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func TestNucleiAdapter_InvokeAndParse(t *testing.T) {
	skipOnWindows(t)
	a := newTestNucleiAdapter(t, fakeNucleiScript("0", true), entities.NucleiConfig{Concurrency: 10})

	if a.ID() != entities.EngineNuclei {
		t.Errorf("ID() = %s", a.ID())
	}
	if a.Requires() != entities.NeedBytecode {
		t.Errorf("Requires() = %v, want bytecode only", a.Requires())
	}
	if err := a.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	paths := testArtifactPaths(t)
	work := t.TempDir()
	raw, err := a.Invoke(context.Background(), paths, gateways.InvokeOptions{WorkDir: work})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	args, err := os.ReadFile(filepath.Join(work, "args.txt"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"-target " + paths.BytecodeDir, "-file", "-j", "-silent", "-nc", "-c 10"} {
		if !strings.Contains(string(args), want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if strings.Contains(string(args), paths.SourceDir) {
		t.Errorf("source tree should not be targeted by default: %q", args)
	}

	// Parse works from the captured bytes after the work dir is removed
	if err := os.RemoveAll(work); err != nil {
		t.Fatal(err)
	}
	res := a.Parse(raw)
	if len(res.Findings) != 2 {
		t.Fatalf("Parse() findings = %d, want 2", len(res.Findings))
	}
	if res.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2 (bad json + missing id)", res.Skipped)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("Warnings = %v", res.Warnings)
	}

	f := res.Findings[0]
	if f.Rule != "webview-javascript" || f.NativeSeverity != "medium" || f.Line != 42 {
		t.Errorf("first finding = %+v", f)
	}
	if !reflect.DeepEqual(f.Tags, []string{"android", "webview"}) {
		t.Errorf("Tags = %v, want comma-split list", f.Tags)
	}
	if f.RawLocation != filepath.Join(paths.BytecodeDir, "smali/com/example/MainActivity.smali") {
		t.Errorf("RawLocation = %s", f.RawLocation)
	}

	second := res.Findings[1]
	if second.Line != 17 || !strings.HasSuffix(second.RawLocation, "strings.xml") {
		t.Errorf("path:line suffix not split: %+v", second)
	}
	if second.Snippet != "https://demo.firebaseio.com" {
		t.Errorf("Snippet = %q, want extracted result", second.Snippet)
	}
}

func TestNucleiAdapter_NonZeroExitWithOutput(t *testing.T) {
	skipOnWindows(t)
	a := newTestNucleiAdapter(t, fakeNucleiScript("1", true), entities.NucleiConfig{})
	if err := a.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}

	raw, err := a.Invoke(context.Background(), testArtifactPaths(t), gateways.InvokeOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Invoke() error = %v, want tolerated non-zero exit", err)
	}
	res := a.Parse(raw)
	if len(res.Findings) != 2 {
		t.Errorf("findings = %d, want 2", len(res.Findings))
	}
	if !strings.Contains(res.Warnings[0], "exited 1") {
		t.Errorf("first warning = %q, want exit warning", res.Warnings[0])
	}
}

func TestNucleiAdapter_NonZeroExitWithoutOutput(t *testing.T) {
	skipOnWindows(t)
	a := newTestNucleiAdapter(t, fakeNucleiScript("2", false), entities.NucleiConfig{})
	if err := a.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := a.Invoke(context.Background(), testArtifactPaths(t), gateways.InvokeOptions{WorkDir: t.TempDir()})
	if !errors.Is(err, entities.ErrEngineInvokeFailed) {
		t.Errorf("Invoke() error = %v, want ErrEngineInvokeFailed", err)
	}
}

func TestNucleiAdapter_Timeout(t *testing.T) {
	skipOnWindows(t)
	script := `if [ "$1" = "-version" ]; then echo "v3.2.0"; exit 0; fi
sleep 30`
	a := newTestNucleiAdapter(t, script, entities.NucleiConfig{})
	if err := a.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.Invoke(ctx, testArtifactPaths(t), gateways.InvokeOptions{WorkDir: t.TempDir()})
	if !errors.Is(err, entities.ErrEngineTimeout) {
		t.Errorf("Invoke() error = %v, want ErrEngineTimeout", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("Invoke() did not return promptly after the timeout")
	}
}

func TestNucleiAdapter_UnavailableTree(t *testing.T) {
	skipOnWindows(t)
	a := newTestNucleiAdapter(t, fakeNucleiScript("0", true), entities.NucleiConfig{})
	if err := a.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}

	paths := testArtifactPaths(t)
	paths.Available = entities.NeedSource
	_, err := a.Invoke(context.Background(), paths, gateways.InvokeOptions{WorkDir: t.TempDir()})
	if !errors.Is(err, entities.ErrEngineInvokeFailed) {
		t.Errorf("Invoke() error = %v, want ErrEngineInvokeFailed", err)
	}
}

func TestNucleiAdapter_InvokeBeforePrepare(t *testing.T) {
	a := NewNucleiAdapter(NewProcessRunner(nil), staticResolver{}, &mockTemplateProvider{}, entities.NucleiConfig{},
		entities.EngineConfig{}, nil)
	_, err := a.Invoke(context.Background(), entities.ArtifactPaths{}, gateways.InvokeOptions{})
	if !errors.Is(err, entities.ErrEngineUnavailable) {
		t.Errorf("Invoke() error = %v, want ErrEngineUnavailable", err)
	}
}

func TestNucleiAdapter_Prepare(t *testing.T) {
	skipOnWindows(t)

	t.Run("old version", func(t *testing.T) {
		binary := writeFakeTool(t, t.TempDir(), "nuclei", `echo "Nuclei Engine Version: v2.9.15" >&2`)
		a := NewNucleiAdapter(NewProcessRunner(nil), staticResolver{path: binary},
			&mockTemplateProvider{dir: t.TempDir(), count: 3}, entities.NucleiConfig{}, entities.EngineConfig{}, nil)
		if err := a.Prepare(context.Background()); !errors.Is(err, entities.ErrEngineUnavailable) {
			t.Errorf("Prepare() error = %v, want ErrEngineUnavailable", err)
		}
	})

	t.Run("no templates", func(t *testing.T) {
		binary := writeFakeTool(t, t.TempDir(), "nuclei", `echo "v3.1.0"`)
		a := NewNucleiAdapter(NewProcessRunner(nil), staticResolver{path: binary},
			&mockTemplateProvider{dir: t.TempDir()}, entities.NucleiConfig{}, entities.EngineConfig{}, nil)
		if err := a.Prepare(context.Background()); !errors.Is(err, entities.ErrEngineUnavailable) {
			t.Errorf("Prepare() error = %v, want ErrEngineUnavailable", err)
		}
	})

	t.Run("installer failure", func(t *testing.T) {
		a := NewNucleiAdapter(NewProcessRunner(nil), staticResolver{err: entities.ErrEngineUnavailable},
			&mockTemplateProvider{}, entities.NucleiConfig{}, entities.EngineConfig{}, nil)
		if err := a.Prepare(context.Background()); !errors.Is(err, entities.ErrEngineUnavailable) {
			t.Errorf("Prepare() error = %v, want ErrEngineUnavailable", err)
		}
	})
}

func TestNucleiAdapter_SeverityOverrides(t *testing.T) {
	a := NewNucleiAdapter(NewProcessRunner(nil), staticResolver{}, &mockTemplateProvider{}, entities.NucleiConfig{},
		entities.EngineConfig{SeverityOverrides: map[string]entities.Severity{"INFO": entities.SeverityMedium}}, nil)

	if got, _ := a.SeverityMap().Lookup("info"); got != entities.SeverityMedium {
		t.Errorf("info = %s, want MEDIUM override", got)
	}
	if got, _ := a.SeverityMap().Lookup("critical"); got != entities.SeverityCritical {
		t.Errorf("critical = %s, want CRITICAL", got)
	}
}

func TestDecodeMatchedLine(t *testing.T) {
	tests := []struct {
		raw      string
		wantLine int
		wantText string
	}{
		{`[12, 40]`, 12, ""},
		{`7`, 7, ""},
		{`"19"`, 19, ""},
		{`"const-string v0, \"secret\""`, 0, `const-string v0, "secret"`},
		{`null`, 0, ""},
		{`[]`, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			line, text := decodeMatchedLine(json.RawMessage(tt.raw))
			if line != tt.wantLine || text != tt.wantText {
				t.Errorf("decodeMatchedLine(%s) = (%d, %q), want (%d, %q)", tt.raw, line, text, tt.wantLine, tt.wantText)
			}
		})
	}
}

func TestTruncateSnippet(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short", "abc", 5, "abc"},
		{"ascii cut", "abcdef", 4, "abcd"},
		{"inside two-byte rune", "aé", 2, "a"},
		{"inside three-byte rune", "ab€", 4, "ab"},
		{"on rune boundary", "ab€c", 5, "ab€"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateSnippet(tt.in, tt.limit)
			if got != tt.want {
				t.Errorf("truncateSnippet(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncateSnippet(%q, %d) produced invalid UTF-8", tt.in, tt.limit)
			}
		})
	}
}

func TestSplitLineSuffix(t *testing.T) {
	tests := []struct {
		in       string
		wantPath string
		wantLine int
	}{
		{"/a/b.xml:17", "/a/b.xml", 17},
		{"/a/b.xml", "/a/b.xml", 0},
		{"C:", "C:", 0},
		{"/a/b:x", "/a/b:x", 0},
	}

	for _, tt := range tests {
		path, line := splitLineSuffix(tt.in)
		if path != tt.wantPath || line != tt.wantLine {
			t.Errorf("splitLineSuffix(%q) = (%q, %d), want (%q, %d)", tt.in, path, line, tt.wantPath, tt.wantLine)
		}
	}
}
