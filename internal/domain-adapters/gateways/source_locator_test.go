package gateways

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/services"
)

const mainActivitySmali = `.class public Lcom/example/MainActivity;
.super Landroid/app/Activity;

.method public constructor <init>()V
    return-void
.end method

.method protected onCreate(Landroid/os/Bundle;)V
    const/4 v1, 0x1
    invoke-virtual {v0, v1}, Landroid/webkit/WebSettings;->setJavaScriptEnabled(Z)V
    return-void
.end method
`

func newLocatorEntry(t *testing.T) *entities.CacheEntry {
	t.Helper()
	root := t.TempDir()
	entry := &entities.CacheEntry{
		Key:              "app_0123",
		BytecodeDir:      filepath.Join(root, "bytecode"),
		SourceDir:        filepath.Join(root, "source"),
		BytecodeComplete: true,
		SourceComplete:   true,
	}
	files := map[string]string{
		filepath.Join(entry.BytecodeDir, "smali", "com", "example", "MainActivity.smali"): mainActivitySmali,
		filepath.Join(entry.BytecodeDir, "smali_classes2", "com", "example", "Db.smali"):  ".class public Lcom/example/Db;\n",
		filepath.Join(entry.BytecodeDir, "AndroidManifest.xml"):                           "<manifest/>",
		filepath.Join(entry.SourceDir, "sources", "com", "example", "Util.java"):          "class Util {}",
		filepath.Join(entry.SourceDir, "sources", "com", "example", "MainActivity.java"):  "class MainActivity {}",
		filepath.Join(entry.SourceDir, "resources", "res", "values", "strings.xml"):       "<resources/>",
	}
	for path, content := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	return entry
}

func TestSourceLocator_AnchorSmaliPath(t *testing.T) {
	entry := newLocatorEntry(t)
	l := NewSourceLocator(nil)

	in := []entities.EngineFinding{{
		Engine:      entities.EngineNuclei,
		Rule:        "webview-javascript",
		RawLocation: filepath.Join(entry.BytecodeDir, "smali", "com", "example", "MainActivity.smali"),
		Line:        10,
	}}
	got := l.Anchor(entry, in)

	f := got[0]
	if f.Location.Tree != entities.TreeBytecode || f.Location.Path != "smali/com/example/MainActivity.smali" {
		t.Errorf("Location = %+v", f.Location)
	}
	if f.Class != "com.example.MainActivity" || f.Method != "onCreate" {
		t.Errorf("Class/Method = %s/%s, want com.example.MainActivity/onCreate", f.Class, f.Method)
	}
	if f.Location.Symbol != "com.example.MainActivity->onCreate" || f.Location.Line != 10 {
		t.Errorf("Location = %+v", f.Location)
	}
	if in[0].Class != "" {
		t.Error("Anchor() must not modify its input")
	}
}

func TestSourceLocator_AnchorSymbolMatchesPath(t *testing.T) {
	entry := newLocatorEntry(t)
	l := NewSourceLocator(nil)

	got := l.Anchor(entry, []entities.EngineFinding{
		{
			Engine:      entities.EngineNuclei,
			RawLocation: filepath.Join(entry.BytecodeDir, "smali", "com", "example", "MainActivity.smali"),
			Line:        10,
		},
		{
			Engine:      entities.EngineReavs,
			RawLocation: "Lcom/example/MainActivity;",
			Symbol:      "Lcom/example/MainActivity;->onCreate(Landroid/os/Bundle;)V",
		},
	})

	reavs := got[1]
	if reavs.Class != "com.example.MainActivity" || reavs.Method != "onCreate" {
		t.Errorf("Class/Method = %s/%s", reavs.Class, reavs.Method)
	}
	if reavs.Location.Path != "smali/com/example/MainActivity.smali" {
		t.Errorf("class should map to its smali file, got %+v", reavs.Location)
	}

	a := services.DedupKey("webview", got[0].Location, got[0].Class, got[0].Method)
	b := services.DedupKey("webview", reavs.Location, reavs.Class, reavs.Method)
	if a != b {
		t.Errorf("same place reported by two engines should share a key: %q vs %q", a, b)
	}
}

func TestSourceLocator_AnchorOtherLocations(t *testing.T) {
	entry := newLocatorEntry(t)
	l := NewSourceLocator(nil)

	got := l.Anchor(entry, []entities.EngineFinding{
		{RawLocation: filepath.Join(entry.SourceDir, "sources", "com", "example", "Util.java"), Line: 3},
		{RawLocation: filepath.Join(entry.BytecodeDir, "AndroidManifest.xml"), Line: 7},
		{RawLocation: "/etc/hosts", Line: 1},
		{RawLocation: "com.example.Db", Symbol: "com.example.Db->query"},
		{RawLocation: "com.example.Missing"},
	})

	if got[0].Location.Tree != entities.TreeSource || got[0].Class != "com.example.Util" {
		t.Errorf("java file = %+v / %s", got[0].Location, got[0].Class)
	}
	if got[1].Location.Path != "AndroidManifest.xml" || got[1].Class != "" {
		t.Errorf("manifest = %+v / %q", got[1].Location, got[1].Class)
	}
	if got[2].Location.Path != "" {
		t.Errorf("path outside the trees must not be kept: %+v", got[2].Location)
	}
	if got[3].Location.Path != "smali_classes2/com/example/Db.smali" || got[3].Method != "query" {
		t.Errorf("multidex class = %+v / %s", got[3].Location, got[3].Method)
	}
	if got[4].Location.Path != "" || got[4].Location.Symbol != "com.example.Missing" {
		t.Errorf("unknown class should be symbol-only: %+v", got[4].Location)
	}
}

func TestSourceLocator_Resolve(t *testing.T) {
	entry := newLocatorEntry(t)
	l := NewSourceLocator(nil)

	tests := []struct {
		name     string
		loc      entities.Location
		wantFile string
		wantErr  bool
	}{
		{
			name:     "tree relative path",
			loc:      entities.Location{Tree: entities.TreeBytecode, Path: "smali/com/example/MainActivity.smali", Line: 10},
			wantFile: filepath.Join(entry.BytecodeDir, "smali", "com", "example", "MainActivity.smali"),
		},
		{
			name:     "path without tree",
			loc:      entities.Location{Path: "resources/res/values/strings.xml"},
			wantFile: filepath.Join(entry.SourceDir, "resources", "res", "values", "strings.xml"),
		},
		{
			name:     "symbol prefers smali",
			loc:      entities.Location{Symbol: "com.example.MainActivity->onCreate"},
			wantFile: filepath.Join(entry.BytecodeDir, "smali", "com", "example", "MainActivity.smali"),
		},
		{
			name:     "inner class falls back to outer java file",
			loc:      entities.Location{Symbol: "com.example.Util$1"},
			wantFile: filepath.Join(entry.SourceDir, "sources", "com", "example", "Util.java"),
		},
		{name: "traversal", loc: entities.Location{Tree: entities.TreeBytecode, Path: "../../etc/passwd"}, wantErr: true},
		{name: "missing file", loc: entities.Location{Tree: entities.TreeSource, Path: "sources/x/Y.java"}, wantErr: true},
		{name: "empty", loc: entities.Location{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, line, err := l.Resolve(entry, tt.loc)
			if tt.wantErr {
				if !errors.Is(err, entities.ErrLocationUnresolved) {
					t.Errorf("Resolve() error = %v, want ErrLocationUnresolved", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if file != tt.wantFile {
				t.Errorf("Resolve() file = %s, want %s", file, tt.wantFile)
			}
			if line != tt.loc.Line {
				t.Errorf("Resolve() line = %d, want %d", line, tt.loc.Line)
			}
		})
	}
}

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		symbol     string
		wantClass  string
		wantMethod string
	}{
		{"Lcom/x/Y;->m(I)V", "com.x.Y", "m"},
		{"com.x.Y->run", "com.x.Y", "run"},
		{"com.x.Y.handle(android.content.Intent)", "com.x.Y", "handle"},
		{"Lcom/x/Y;", "com.x.Y", ""},
		{"com.x.Y", "com.x.Y", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			class, method := ParseSymbol(tt.symbol)
			if class != tt.wantClass || method != tt.wantMethod {
				t.Errorf("ParseSymbol(%q) = (%q, %q), want (%q, %q)", tt.symbol, class, method, tt.wantClass, tt.wantMethod)
			}
		})
	}
}
