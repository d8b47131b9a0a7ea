package gateways

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
	"github.com/ochairo/geiger/internal/domain/services"
)

const defaultReavsDepth = 3

// ReavsAdapter runs the reAVS taint engine against the archive
type ReavsAdapter struct {
	runner     *ProcessRunner
	resolver   ReavsResolver
	cfg        entities.ReavsConfig
	severities entities.SeverityMap
	logger     interfaces.Logger

	mu      sync.Mutex
	runtime *ReavsRuntime
}

// NewReavsAdapter creates the taint-engine adapter
func NewReavsAdapter(
	runner *ProcessRunner,
	resolver ReavsResolver,
	cfg entities.ReavsConfig,
	engine entities.EngineConfig,
	logger interfaces.Logger,
) *ReavsAdapter {
	return &ReavsAdapter{
		runner:     runner,
		resolver:   resolver,
		cfg:        cfg,
		severities: services.DefaultSeverityMap(entities.EngineReavs).With(engine.SeverityOverrides),
		logger:     interfaces.OrNoOp(logger),
	}
}

// ID returns the reAVS engine id
func (a *ReavsAdapter) ID() entities.EngineID {
	return entities.EngineReavs
}

// Requires returns the empty set: reAVS reads the archive itself
func (a *ReavsAdapter) Requires() entities.TreeSet {
	return 0
}

// SeverityMap returns the reAVS severity table including overrides
func (a *ReavsAdapter) SeverityMap() entities.SeverityMap {
	return a.severities
}

// Prepare provisions the reAVS checkout and interpreter
func (a *ReavsAdapter) Prepare(ctx context.Context) error {
	rt, err := a.resolver.Ensure(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.runtime = rt
	a.mu.Unlock()
	return nil
}

// Invoke runs avs.py with the reAVS checkout as working directory
func (a *ReavsAdapter) Invoke(ctx context.Context, paths entities.ArtifactPaths, opts gateways.InvokeOptions) (*entities.RawOutput, error) {
	a.mu.Lock()
	rt := a.runtime
	a.mu.Unlock()
	if rt == nil {
		return nil, fmt.Errorf("%w: reAVS is not prepared", entities.ErrEngineUnavailable)
	}
	if paths.Archive == "" {
		return nil, fmt.Errorf("%w: no archive path", entities.ErrEngineInvokeFailed)
	}

	out := filepath.Join(opts.WorkDir, "reavs.json")
	args := []string{filepath.Join(rt.Dir, reavsEntrypoint), paths.Archive, "--out", out}
	if a.cfg.Deep {
		depth := a.cfg.Depth
		if depth <= 0 {
			depth = defaultReavsDepth
		}
		args = append(args, "--deep", "--depth", strconv.Itoa(depth))
	} else {
		args = append(args, "--fast")
	}

	result := a.runner.Run(ctx, ProcessSpec{
		Name:        rt.Python,
		Args:        args,
		Dir:         rt.Dir,
		Description: "reAVS scan",
	})

	raw := &entities.RawOutput{
		Engine:   entities.EngineReavs,
		Path:     out,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
	}
	if err := runStatusError(ctx, result); err != nil {
		return raw, err
	}
	if !result.Success {
		reason := tail(result.Stderr)
		if strings.Contains(result.Stderr, "No module named") {
			reason = "reAVS dependencies not installed: " + reason
		}
		return raw, fmt.Errorf("%w: reAVS exited %d: %s", entities.ErrEngineInvokeFailed, result.ExitCode, reason)
	}
	data, err := readRawOutput(out)
	if err != nil {
		return raw, fmt.Errorf("%w: %v", entities.ErrEngineInvokeFailed, err)
	}
	raw.Data = data
	return raw, nil
}

// reavsRecord is one entry of the reAVS findings array
type reavsRecord struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Severity         string          `json:"severity"`
	Description      string          `json:"description"`
	Confidence       string          `json:"confidence"`
	ConfidenceBasis  string          `json:"confidence_basis"`
	ComponentName    string          `json:"component_name"`
	ClassName        string          `json:"class_name"`
	EntrypointMethod string          `json:"entrypoint_method"`
	PrimaryMethod    string          `json:"primary_method"`
	SinkMethod       string          `json:"sink_method"`
	Evidence         []reavsEvidence `json:"evidence"`
	Recommendation   string          `json:"recommendation"`
	References       stringList      `json:"references"`
}

type reavsEvidence struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Method      string `json:"method"`
	Notes       string `json:"notes"`
}

// Parse streams the findings array out of the report file. Records decoded
// before a truncation are kept. Without a report file, stdout is read as a
// JSON-lines stream.
func (a *ReavsAdapter) Parse(raw *entities.RawOutput) gateways.ParseResult {
	var res gateways.ParseResult
	if raw == nil {
		return res
	}

	if len(bytes.TrimSpace(raw.Data)) > 0 {
		parseReavsDocument(bytes.NewReader(raw.Data), &res)
	} else {
		parseReavsStream(raw.Stdout, &res)
	}
	return res
}

// parseReavsDocument walks {"findings": [...]} token by token
func parseReavsDocument(r io.Reader, res *gateways.ParseResult) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		res.Skipped++
		addWarning(res, fmt.Sprintf("reAVS output is not JSON: %v", err))
		return
	}

	switch tok {
	case json.Delim('['):
		decodeReavsArray(dec, res)
		return
	case json.Delim('{'):
	default:
		res.Skipped++
		addWarning(res, "reAVS output is not a JSON object")
		return
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			addTruncation(res, err)
			return
		}
		key, _ := keyTok.(string)
		if key != "findings" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				addTruncation(res, err)
				return
			}
			continue
		}

		open, err := dec.Token()
		if err != nil {
			addTruncation(res, err)
			return
		}
		if open == nil {
			continue
		}
		if open != json.Delim('[') {
			res.Skipped++
			addWarning(res, "reAVS findings is not an array")
			return
		}
		if !decodeReavsArray(dec, res) {
			return
		}
	}
}

// decodeReavsArray decodes array elements until the closing bracket.
// It returns false when the stream ended early.
func decodeReavsArray(dec *json.Decoder, res *gateways.ParseResult) bool {
	index := 0
	for dec.More() {
		var element json.RawMessage
		if err := dec.Decode(&element); err != nil {
			addTruncation(res, err)
			return false
		}
		addReavsRecord(element, fmt.Sprintf("record %d", index), res)
		index++
	}
	if _, err := dec.Token(); err != nil {
		addTruncation(res, err)
		return false
	}
	return true
}

// parseReavsStream reads JSON records from a log stream, one per line
func parseReavsStream(stdout string, res *gateways.ParseResult) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), maxCapturedOutput)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		addReavsRecord([]byte(line), fmt.Sprintf("stdout line %d", lineNo), res)
	}
}

func addReavsRecord(data []byte, where string, res *gateways.ParseResult) {
	var rec reavsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		res.Skipped++
		addWarning(res, fmt.Sprintf("%s: %v", where, err))
		return
	}
	if rec.ID == "" {
		res.Skipped++
		addWarning(res, fmt.Sprintf("%s: record has no id", where))
		return
	}
	res.Findings = append(res.Findings, rec.toEngineFinding())
}

func addTruncation(res *gateways.ParseResult, err error) {
	res.Skipped++
	addWarning(res, fmt.Sprintf("reAVS output truncated after %d records: %v", len(res.Findings), err))
}

func (r *reavsRecord) toEngineFinding() entities.EngineFinding {
	class := r.ClassName
	if class == "" {
		class = r.ComponentName
	}
	method := r.PrimaryMethod
	if method == "" {
		method = r.EntrypointMethod
	}

	description := strings.TrimSpace(r.Description)
	if r.SinkMethod != "" {
		description += "\nSink: " + r.SinkMethod
	}
	if r.Recommendation != "" {
		description += "\nRecommendation: " + strings.TrimSpace(r.Recommendation)
	}

	var snippet string
	for _, ev := range r.Evidence {
		if ev.Description == "" {
			continue
		}
		if ev.Kind != "" {
			snippet = ev.Kind + ": " + ev.Description
		} else {
			snippet = ev.Description
		}
		break
	}

	confidence := r.Confidence
	if r.ConfidenceBasis != "" && confidence != "" {
		confidence += " (" + r.ConfidenceBasis + ")"
	}

	symbol := ""
	if method != "" {
		symbol = method
		if !strings.Contains(method, "->") && class != "" {
			symbol = class + "->" + method
		}
	}

	return entities.EngineFinding{
		Engine:         entities.EngineReavs,
		Rule:           r.ID,
		NativeSeverity: r.Severity,
		Title:          r.Title,
		Description:    strings.TrimSpace(description),
		References:     r.References,
		RawLocation:    class,
		Snippet:        snippet,
		Confidence:     confidence,
		Symbol:         symbol,
	}
}
