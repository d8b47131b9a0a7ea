package gateways

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
	"github.com/ochairo/geiger/internal/domain/services"
)

const (
	// minNucleiVersion is the first release with file templates and -j output
	minNucleiVersion = "3.0.0"
	// maxParseWarnings caps the warnings kept per parse
	maxParseWarnings = 20
	// maxSnippetLength truncates snippets taken from extracted results
	maxSnippetLength = 512
)

// BinaryResolver returns a usable path to an engine executable
type BinaryResolver interface {
	Ensure(ctx context.Context) (string, error)
}

// NucleiAdapter runs nuclei file templates against the decompiled trees
type NucleiAdapter struct {
	runner     *ProcessRunner
	installer  BinaryResolver
	templates  gateways.TemplateProvider
	probe      *VersionProbe
	cfg        entities.NucleiConfig
	targets    []entities.TreeKind
	severities entities.SeverityMap
	logger     interfaces.Logger

	mu          sync.Mutex
	binary      string
	templateDir string
}

// NewNucleiAdapter creates the pattern-engine adapter
func NewNucleiAdapter(
	runner *ProcessRunner,
	installer BinaryResolver,
	templates gateways.TemplateProvider,
	cfg entities.NucleiConfig,
	engine entities.EngineConfig,
	logger interfaces.Logger,
) *NucleiAdapter {
	targets := engine.Targets
	if len(targets) == 0 {
		targets = []entities.TreeKind{entities.TreeBytecode}
	}
	return &NucleiAdapter{
		runner:     runner,
		installer:  installer,
		templates:  templates,
		probe:      NewVersionProbe(runner),
		cfg:        cfg,
		targets:    targets,
		severities: services.DefaultSeverityMap(entities.EngineNuclei).With(engine.SeverityOverrides),
		logger:     interfaces.OrNoOp(logger),
	}
}

// ID returns the nuclei engine id
func (a *NucleiAdapter) ID() entities.EngineID {
	return entities.EngineNuclei
}

// Requires returns the trees nuclei is pointed at
func (a *NucleiAdapter) Requires() entities.TreeSet {
	return treeSetOf(a.targets)
}

// SeverityMap returns the nuclei severity table including overrides
func (a *NucleiAdapter) SeverityMap() entities.SeverityMap {
	return a.severities
}

// Prepare resolves the nuclei binary and the template directory
func (a *NucleiAdapter) Prepare(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.binary != "" && a.templateDir != "" {
		return nil
	}

	binary, err := a.installer.Ensure(ctx)
	if err != nil {
		return err
	}
	if version, err := a.probe.Version(ctx, binary, "-version"); err != nil {
		a.logger.Debug("could not determine nuclei version", interfaces.F("error", err.Error()))
	} else if CompareVersions(version, minNucleiVersion) < 0 {
		return fmt.Errorf("%w: nuclei %s is older than %s", entities.ErrEngineUnavailable, version, minNucleiVersion)
	}

	dir, err := a.templates.Ensure(ctx)
	if err != nil {
		return err
	}
	count, err := a.templates.Count(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrEngineUnavailable, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: no templates found in %s", entities.ErrEngineUnavailable, dir)
	}

	a.logger.Info("nuclei ready",
		interfaces.F("binary", binary),
		interfaces.F("templates", count))
	a.binary = binary
	a.templateDir = dir
	return nil
}

// Invoke runs one nuclei process over every available target tree.
// A non-zero exit is tolerated when nuclei still wrote output.
func (a *NucleiAdapter) Invoke(ctx context.Context, paths entities.ArtifactPaths, opts gateways.InvokeOptions) (*entities.RawOutput, error) {
	a.mu.Lock()
	binary, templateDir := a.binary, a.templateDir
	a.mu.Unlock()
	if binary == "" {
		return nil, fmt.Errorf("%w: nuclei is not prepared", entities.ErrEngineUnavailable)
	}

	targets := opts.Targets
	if len(targets) == 0 {
		targets = a.targets
	}

	args := make([]string, 0, 16)
	for _, tree := range targets {
		dir := treeDir(paths, tree)
		if dir == "" || !paths.Available.Has(treeSetOf([]entities.TreeKind{tree})) {
			a.logger.Warn("skipping unavailable target tree", interfaces.F("tree", string(tree)))
			continue
		}
		args = append(args, "-target", dir)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no target tree available", entities.ErrEngineInvokeFailed)
	}

	out := filepath.Join(opts.WorkDir, "nuclei.jsonl")
	args = append(args, "-t", templateDir, "-file", "-j", "-o", out, "-silent", "-nc")
	if a.cfg.Concurrency > 0 {
		args = append(args, "-c", strconv.Itoa(a.cfg.Concurrency))
	}

	result := a.runner.Run(ctx, ProcessSpec{
		Name:        binary,
		Args:        args,
		Dir:         opts.WorkDir,
		Description: "nuclei scan",
	})

	raw := &entities.RawOutput{
		Engine:   entities.EngineNuclei,
		Path:     out,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
	}
	if err := runStatusError(ctx, result); err != nil {
		return raw, err
	}
	data, err := readRawOutput(out)
	if err != nil {
		return raw, fmt.Errorf("%w: %v", entities.ErrEngineInvokeFailed, err)
	}
	raw.Data = data
	if !result.Success && len(bytes.TrimSpace(data)) == 0 {
		return raw, fmt.Errorf("%w: nuclei exited %d: %s", entities.ErrEngineInvokeFailed, result.ExitCode, tail(result.Stderr))
	}
	return raw, nil
}

// nucleiRecord is one JSONL line of nuclei output
type nucleiRecord struct {
	TemplateID   string `json:"template-id"`
	TemplatePath string `json:"template-path"`
	Info         struct {
		Name        string     `json:"name"`
		Severity    string     `json:"severity"`
		Description string     `json:"description"`
		Tags        stringList `json:"tags"`
		Reference   stringList `json:"reference"`
	} `json:"info"`
	MatchedAt        string          `json:"matched-at"`
	MatchedLine      json.RawMessage `json:"matched-line"`
	ExtractedResults stringList      `json:"extracted-results"`
	Timestamp        string          `json:"timestamp"`
}

// Parse reads the JSONL output. Malformed lines are skipped and sampled.
func (a *NucleiAdapter) Parse(raw *entities.RawOutput) gateways.ParseResult {
	var res gateways.ParseResult
	if raw == nil {
		return res
	}
	if raw.ExitCode > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("nuclei exited %d, parsing partial output", raw.ExitCode))
	}

	reader := bufio.NewReader(bytes.NewReader(raw.Data))
	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if finding, perr := parseNucleiLine(line); perr != nil {
				res.Skipped++
				addWarning(&res, fmt.Sprintf("line %d: %v", lineNo, perr))
			} else {
				res.Findings = append(res.Findings, finding)
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				addWarning(&res, fmt.Sprintf("read error after line %d: %v", lineNo, readErr))
			}
			break
		}
	}
	return res
}

func parseNucleiLine(line []byte) (entities.EngineFinding, error) {
	var rec nucleiRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return entities.EngineFinding{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if rec.TemplateID == "" {
		return entities.EngineFinding{}, fmt.Errorf("record has no template-id")
	}

	location, line0 := splitLineSuffix(rec.MatchedAt)
	lineNum, lineText := decodeMatchedLine(rec.MatchedLine)
	if lineNum == 0 {
		lineNum = line0
	}

	snippet := lineText
	if snippet == "" && len(rec.ExtractedResults) > 0 {
		snippet = strings.Join(rec.ExtractedResults, ", ")
	}
	snippet = truncateSnippet(snippet, maxSnippetLength)

	return entities.EngineFinding{
		Engine:         entities.EngineNuclei,
		Rule:           rec.TemplateID,
		NativeSeverity: rec.Info.Severity,
		Title:          rec.Info.Name,
		Description:    strings.TrimSpace(rec.Info.Description),
		Tags:           rec.Info.Tags,
		References:     rec.Info.Reference,
		RawLocation:    location,
		Line:           lineNum,
		Snippet:        snippet,
	}, nil
}

// truncateSnippet cuts s to at most limit bytes without splitting a rune
func truncateSnippet(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// splitLineSuffix splits "path:42" into ("path", 42)
func splitLineSuffix(s string) (string, int) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return s, 0
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n <= 0 {
		return s, 0
	}
	return s[:i], n
}

// decodeMatchedLine accepts the line list newer nuclei versions emit,
// a single number, or the matched line text
func decodeMatchedLine(raw json.RawMessage) (int, string) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, ""
	}
	var lines []int
	if err := json.Unmarshal(raw, &lines); err == nil {
		if len(lines) > 0 {
			return lines[0], ""
		}
		return 0, ""
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
			return n, ""
		}
		return 0, strings.TrimSpace(text)
	}
	return 0, ""
}

// stringList decodes a JSON string list, a comma-separated string, or null
type stringList []string

// UnmarshalJSON implements json.Unmarshaler
func (s *stringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	var out []string
	for _, part := range strings.Split(single, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*s = out
	return nil
}

// treeSetOf converts tree kinds to a set
func treeSetOf(trees []entities.TreeKind) entities.TreeSet {
	var s entities.TreeSet
	for _, t := range trees {
		switch t {
		case entities.TreeBytecode:
			s |= entities.NeedBytecode
		case entities.TreeSource:
			s |= entities.NeedSource
		}
	}
	return s
}

func treeDir(paths entities.ArtifactPaths, tree entities.TreeKind) string {
	switch tree {
	case entities.TreeBytecode:
		return paths.BytecodeDir
	case entities.TreeSource:
		return paths.SourceDir
	default:
		return ""
	}
}

// addWarning appends a parse warning unless the cap is reached
func addWarning(res *gateways.ParseResult, msg string) {
	if len(res.Warnings) < maxParseWarnings {
		res.Warnings = append(res.Warnings, msg)
	}
}

// runStatusError maps a process status to the engine error taxonomy
func runStatusError(ctx context.Context, result *ProcessResult) error {
	switch result.Status {
	case ProcessTimedOut:
		return fmt.Errorf("%w: %v", entities.ErrEngineTimeout, result.Error)
	case ProcessCanceled:
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	case ProcessStartFailed:
		return fmt.Errorf("%w: %v", entities.ErrEngineInvokeFailed, result.Error)
	default:
		return nil
	}
}

// readRawOutput returns the engine's output file, or nil when it wrote none
func readRawOutput(path string) ([]byte, error) {
	//nolint:gosec // G304: path is inside the run's private work directory
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read engine output: %w", err)
	}
	return data, nil
}
