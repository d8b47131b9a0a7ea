package gateways

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
)

// SourceLocator anchors engine locations to the decompiled trees.
// Paths become tree-relative, smali files yield their class and the
// enclosing method, and class symbols are mapped back to files.
type SourceLocator struct {
	logger interfaces.Logger
}

// NewSourceLocator creates a source locator
func NewSourceLocator(logger interfaces.Logger) *SourceLocator {
	return &SourceLocator{logger: interfaces.OrNoOp(logger)}
}

// smaliMethod is a .method directive and the line it starts on
type smaliMethod struct {
	line int
	name string
}

// Anchor fills Location, Class and Method for each finding. The input slice
// is not modified.
func (l *SourceLocator) Anchor(entry *entities.CacheEntry, findings []entities.EngineFinding) []entities.EngineFinding {
	out := make([]entities.EngineFinding, len(findings))
	methods := make(map[string][]smaliMethod)

	for i := range findings {
		f := findings[i]
		l.anchorOne(entry, &f, methods)
		out[i] = f
	}
	return out
}

func (l *SourceLocator) anchorOne(entry *entities.CacheEntry, f *entities.EngineFinding, methods map[string][]smaliMethod) {
	loc := entities.Location{Line: f.Line}

	if tree, rel, ok := relativize(entry, f.RawLocation); ok {
		loc.Tree = tree
		loc.Path = rel
		if f.Class == "" {
			f.Class = classFromTreePath(tree, rel)
		}
		if f.Method == "" && tree == entities.TreeBytecode && strings.HasSuffix(rel, ".smali") && f.Line > 0 {
			abs := filepath.Join(entry.TreeDir(tree), rel)
			if _, cached := methods[abs]; !cached {
				methods[abs] = readSmaliMethods(abs)
			}
			f.Method = enclosingMethod(methods[abs], f.Line)
		}
	} else if f.RawLocation != "" && looksLikePath(f.RawLocation) {
		l.logger.Debug("finding location outside decompiled trees",
			interfaces.F("engine", string(f.Engine)),
			interfaces.F("location", f.RawLocation))
	}

	if f.Symbol != "" {
		class, method := ParseSymbol(f.Symbol)
		if f.Class == "" {
			f.Class = class
		}
		if f.Method == "" {
			f.Method = method
		}
	}
	if f.Class == "" && f.RawLocation != "" && !looksLikePath(f.RawLocation) {
		f.Class = NormalizeClassName(f.RawLocation)
	}

	if loc.Path == "" && f.Class != "" {
		if tree, rel, ok := classFile(entry, f.Class); ok {
			loc.Tree = tree
			loc.Path = rel
		}
	}

	switch {
	case f.Class != "" && f.Method != "":
		loc.Symbol = f.Class + "->" + f.Method
	case f.Class != "":
		loc.Symbol = f.Class
	}
	f.Location = loc
}

// Resolve returns the absolute file and line a location points at
func (l *SourceLocator) Resolve(entry *entities.CacheEntry, loc entities.Location) (string, int, error) {
	if entry == nil {
		return "", 0, fmt.Errorf("%w: no cache entry", entities.ErrLocationUnresolved)
	}

	if loc.Path != "" {
		trees := []entities.TreeKind{loc.Tree}
		if loc.Tree == "" {
			trees = []entities.TreeKind{entities.TreeBytecode, entities.TreeSource}
		}
		for _, tree := range trees {
			root := entry.TreeDir(tree)
			if root == "" {
				continue
			}
			abs, err := safeJoin(root, loc.Path)
			if err != nil {
				return "", 0, fmt.Errorf("%w: %v", entities.ErrLocationUnresolved, err)
			}
			if fileExists(abs) {
				return abs, loc.Line, nil
			}
		}
		return "", 0, fmt.Errorf("%w: %s", entities.ErrLocationUnresolved, loc.Path)
	}

	if loc.Symbol != "" {
		class, _ := ParseSymbol(loc.Symbol)
		if tree, rel, ok := classFile(entry, class); ok {
			return filepath.Join(entry.TreeDir(tree), rel), loc.Line, nil
		}
		return "", 0, fmt.Errorf("%w: class %s", entities.ErrLocationUnresolved, class)
	}
	return "", 0, fmt.Errorf("%w: empty location", entities.ErrLocationUnresolved)
}

// relativize maps an absolute engine path into one of the entry's trees
func relativize(entry *entities.CacheEntry, raw string) (entities.TreeKind, string, bool) {
	if entry == nil || raw == "" || !filepath.IsAbs(raw) {
		return "", "", false
	}
	candidates := []string{filepath.Clean(raw)}
	if resolved, err := filepath.EvalSymlinks(raw); err == nil && resolved != candidates[0] {
		candidates = append(candidates, resolved)
	}

	for _, tree := range []entities.TreeKind{entities.TreeBytecode, entities.TreeSource} {
		root := entry.TreeDir(tree)
		if root == "" {
			continue
		}
		roots := []string{filepath.Clean(root)}
		if resolved, err := filepath.EvalSymlinks(root); err == nil && resolved != roots[0] {
			roots = append(roots, resolved)
		}
		for _, r := range roots {
			for _, c := range candidates {
				rel, err := filepath.Rel(r, c)
				if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
					continue
				}
				return tree, filepath.ToSlash(rel), true
			}
		}
	}
	return "", "", false
}

// classFromTreePath derives a class name from smali/... or sources/... paths
func classFromTreePath(tree entities.TreeKind, rel string) string {
	parts := strings.Split(rel, "/")
	if len(parts) < 2 {
		return ""
	}
	dotted := strings.Join(parts[1:], ".")
	switch {
	case tree == entities.TreeBytecode && strings.HasPrefix(parts[0], "smali") && strings.HasSuffix(rel, ".smali"):
		return strings.TrimSuffix(dotted, ".smali")
	case tree == entities.TreeSource && parts[0] == "sources" && strings.HasSuffix(rel, ".java"):
		return strings.TrimSuffix(dotted, ".java")
	default:
		return ""
	}
}

// classFile finds the smali or java file that defines class
func classFile(entry *entities.CacheEntry, class string) (entities.TreeKind, string, bool) {
	if entry == nil || class == "" {
		return "", "", false
	}
	rel := strings.ReplaceAll(class, ".", "/")

	if root := entry.BytecodeDir; root != "" {
		dirs, _ := filepath.Glob(filepath.Join(root, "smali*"))
		sort.Strings(dirs)
		for _, dir := range dirs {
			candidate := filepath.Join(dir, filepath.FromSlash(rel)+".smali")
			if fileExists(candidate) {
				return entities.TreeBytecode, filepath.Base(dir) + "/" + rel + ".smali", true
			}
		}
	}

	if root := entry.SourceDir; root != "" {
		// inner classes live in their outer class's file
		outer := rel
		if i := strings.IndexByte(outer, '$'); i > 0 {
			outer = outer[:i]
		}
		candidate := filepath.Join(root, "sources", filepath.FromSlash(outer)+".java")
		if fileExists(candidate) {
			return entities.TreeSource, "sources/" + outer + ".java", true
		}
	}
	return "", "", false
}

// readSmaliMethods lists the .method directives of a smali file
func readSmaliMethods(path string) []smaliMethod {
	//nolint:gosec // G304: path is inside the decompiled bytecode tree
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	var methods []smaliMethod
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(text, ".method ") {
			continue
		}
		fields := strings.Fields(text)
		sig := fields[len(fields)-1]
		if i := strings.IndexByte(sig, '('); i > 0 {
			methods = append(methods, smaliMethod{line: line, name: sig[:i]})
		}
	}
	return methods
}

// enclosingMethod returns the last method that starts at or before line
func enclosingMethod(methods []smaliMethod, line int) string {
	name := ""
	for _, m := range methods {
		if m.line > line {
			break
		}
		name = m.name
	}
	return name
}

// ParseSymbol splits "Lcom/x/Y;->m(I)V", "com.x.Y->m" or "com.x.Y.m()" style
// symbols into a dotted class name and a bare method name
func ParseSymbol(symbol string) (string, string) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return "", ""
	}
	if i := strings.Index(symbol, "->"); i >= 0 {
		return NormalizeClassName(symbol[:i]), methodName(symbol[i+2:])
	}
	if strings.HasSuffix(symbol, ";") || !strings.Contains(symbol, "(") {
		return NormalizeClassName(symbol), ""
	}
	// com.x.Y.m(args)
	head := symbol[:strings.IndexByte(symbol, '(')]
	if i := strings.LastIndexByte(head, '.'); i > 0 {
		return NormalizeClassName(head[:i]), head[i+1:]
	}
	return "", methodName(symbol)
}

// NormalizeClassName converts smali descriptors (Lcom/x/Y;) and slash paths to dotted names
func NormalizeClassName(class string) string {
	class = strings.TrimSpace(class)
	if strings.HasPrefix(class, "L") && strings.HasSuffix(class, ";") {
		class = class[1 : len(class)-1]
	}
	return strings.ReplaceAll(class, "/", ".")
}

func methodName(s string) string {
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// looksLikePath reports whether raw is a file path rather than a class name
func looksLikePath(raw string) bool {
	if filepath.IsAbs(raw) {
		return true
	}
	if strings.HasSuffix(raw, ";") {
		return false
	}
	ext := filepath.Ext(raw)
	return strings.Contains(raw, "/") && ext != "" && !strings.Contains(ext, "$")
}
