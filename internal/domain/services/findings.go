package services

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces/services"
)

// findingNamespace scopes the name-based finding ids
var findingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ochairo/geiger/finding"))

// findingsService implements FindingsService with pure business logic
type findingsService struct {
	priority   []entities.EngineID
	rank       map[entities.EngineID]int
	severities map[entities.EngineID]entities.SeverityMap
	categories map[entities.EngineID]map[string]string
}

// NewFindingsService creates a findings service.
// priority is the declared engine order; earlier engines win field precedence on merge.
// Engines without a severity table use DefaultSeverityMap.
func NewFindingsService(
	priority []entities.EngineID,
	severities map[entities.EngineID]entities.SeverityMap,
	categories map[entities.EngineID]map[string]string,
) services.FindingsService {
	s := &findingsService{
		priority:   append([]entities.EngineID(nil), priority...),
		rank:       make(map[entities.EngineID]int, len(priority)),
		severities: make(map[entities.EngineID]entities.SeverityMap),
		categories: make(map[entities.EngineID]map[string]string),
	}
	for i, id := range priority {
		if _, dup := s.rank[id]; !dup {
			s.rank[id] = i
		}
	}
	for id, m := range severities {
		s.severities[id] = m
	}
	for id, rules := range categories {
		lowered := make(map[string]string, len(rules))
		for rule, c := range rules {
			lowered[strings.ToLower(strings.TrimSpace(rule))] = c
		}
		s.categories[id] = lowered
	}
	return s
}

// DedupKey returns the identity of a finding across engines: category | unit | position.
// unit is the enclosing class, or the tree-relative path when no class is known;
// position is the method name, else the line, else empty.
func DedupKey(category string, loc entities.Location, class, method string) string {
	unit := class
	if unit == "" {
		unit = loc.Path
	}
	position := method
	if position == "" && loc.Line > 0 {
		position = strconv.Itoa(loc.Line)
	}
	return category + "|" + unit + "|" + position
}

// FindingID returns the stable id derived from a dedup key
func FindingID(key string) string {
	return uuid.NewSHA1(findingNamespace, []byte(key)).String()
}

// Normalize maps one engine's findings to canonical findings.
// The returned warnings describe unmapped severities.
func (s *findingsService) Normalize(engine entities.EngineID, findings []entities.EngineFinding) ([]entities.Finding, []string) {
	table, ok := s.severities[engine]
	if !ok {
		table = DefaultSeverityMap(engine)
	}

	out := make([]entities.Finding, 0, len(findings))
	var warnings []string
	for i := range findings {
		ef := &findings[i]

		severity, warn := MapSeverity(engine, table, ef.NativeSeverity)
		if warn != "" {
			warnings = append(warnings, warn)
		}

		category := Categorize(s.categories[engine], ef)

		loc := ef.Location
		if loc.Line == 0 {
			loc.Line = ef.Line
		}
		if loc.Symbol == "" {
			loc.Symbol = ef.Symbol
		}

		title := ef.Title
		if title == "" {
			title = ef.Rule
		}

		f := entities.Finding{
			ID:         FindingID(DedupKey(category, loc, ef.Class, ef.Method)),
			Engines:    []entities.EngineID{engine},
			Severity:   severity,
			Rule:       ef.Rule,
			Category:   category,
			Title:      title,
			Location:   loc,
			Snippet:    ef.Snippet,
			Confidence: ef.Confidence,
			References: dedupStrings(ef.References),
		}
		if d := strings.TrimSpace(ef.Description); d != "" {
			f.Description = "[" + string(engine) + "] " + d
		}
		out = append(out, f)
	}
	return out, warnings
}

// Merge deduplicates findings by id.
// Output order follows the first occurrence after ordering inputs by engine priority.
// On collision engines are unioned, severity is the maximum, descriptions are
// concatenated with provenance markers, and the highest-priority contributor
// supplies title, location and snippet.
// Pure business logic - no I/O
func (s *findingsService) Merge(sets ...[]entities.Finding) []entities.Finding {
	var all []entities.Finding
	for _, set := range sets {
		all = append(all, set...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return s.findingRank(&all[i]) < s.findingRank(&all[j])
	})

	order := make([]string, 0, len(all))
	groups := make(map[string][]*entities.Finding, len(all))
	for i := range all {
		id := all[i].ID
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], &all[i])
	}

	merged := make([]entities.Finding, 0, len(order))
	for _, id := range order {
		merged = append(merged, s.combine(groups[id]))
	}
	return merged
}

// combine folds one group of colliding findings into a single finding
func (s *findingsService) combine(group []*entities.Finding) entities.Finding {
	contributors := append([]*entities.Finding(nil), group...)
	sort.SliceStable(contributors, func(i, j int) bool {
		return s.contributorLess(contributors[i], contributors[j])
	})

	primary := contributors[0]
	out := entities.Finding{
		ID:         primary.ID,
		Severity:   primary.Severity,
		Rule:       primary.Rule,
		Category:   primary.Category,
		Title:      primary.Title,
		Location:   primary.Location,
		Snippet:    primary.Snippet,
		Confidence: primary.Confidence,
	}

	engines := make(map[entities.EngineID]struct{})
	var segments []descriptionSegment
	var refs []string
	for _, f := range contributors {
		for _, e := range f.Engines {
			engines[e] = struct{}{}
		}
		out.Severity = entities.MaxSeverity(out.Severity, f.Severity)
		if out.Rule == "" {
			out.Rule = f.Rule
		}
		if out.Title == "" {
			out.Title = f.Title
		}
		if out.Location.Tree == "" && out.Location.Path == "" {
			out.Location.Tree = f.Location.Tree
			out.Location.Path = f.Location.Path
		}
		if out.Location.Line == 0 {
			out.Location.Line = f.Location.Line
		}
		if out.Location.Symbol == "" {
			out.Location.Symbol = f.Location.Symbol
		}
		if out.Snippet == "" {
			out.Snippet = f.Snippet
		}
		if out.Confidence == "" {
			out.Confidence = f.Confidence
		}
		segments = append(segments, splitDescription(f.Description)...)
		refs = append(refs, f.References...)
	}

	out.Engines = s.sortEngines(engines)
	out.Description = s.joinDescription(segments)
	out.References = dedupStrings(refs)
	return out
}

// engineRank orders engines by declared priority; undeclared engines sort last
func (s *findingsService) engineRank(e entities.EngineID) int {
	if r, ok := s.rank[e]; ok {
		return r
	}
	return len(s.priority)
}

// findingRank is the best priority among a finding's engines
func (s *findingsService) findingRank(f *entities.Finding) int {
	best := len(s.priority) + 1
	for _, e := range f.Engines {
		if r := s.engineRank(e); r < best {
			best = r
		}
	}
	return best
}

// contributorLess gives a total order over colliding findings so the
// primary contributor does not depend on input order
func (s *findingsService) contributorLess(a, b *entities.Finding) bool {
	if ra, rb := s.findingRank(a), s.findingRank(b); ra != rb {
		return ra < rb
	}
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	if a.Rule != b.Rule {
		return a.Rule < b.Rule
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	if a.Location.Path != b.Location.Path {
		return a.Location.Path < b.Location.Path
	}
	if a.Location.Line != b.Location.Line {
		return a.Location.Line < b.Location.Line
	}
	return a.Snippet < b.Snippet
}

func (s *findingsService) sortEngines(set map[entities.EngineID]struct{}) []entities.EngineID {
	out := make([]entities.EngineID, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := s.engineRank(out[i]), s.engineRank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// descriptionSegment is one "[engine] text" block of a merged description
type descriptionSegment struct {
	engine entities.EngineID
	text   string
}

// splitDescription breaks a description into its provenance-marked segments.
// Continuation lines belong to the preceding marker.
func splitDescription(desc string) []descriptionSegment {
	if strings.TrimSpace(desc) == "" {
		return nil
	}
	var segs []descriptionSegment
	for _, line := range strings.Split(desc, "\n") {
		if engine, rest, ok := parseMarker(line); ok {
			segs = append(segs, descriptionSegment{engine: engine, text: rest})
			continue
		}
		if len(segs) == 0 {
			segs = append(segs, descriptionSegment{text: line})
			continue
		}
		segs[len(segs)-1].text += "\n" + line
	}
	return segs
}

func parseMarker(line string) (entities.EngineID, string, bool) {
	if !strings.HasPrefix(line, "[") {
		return "", "", false
	}
	end := strings.Index(line, "] ")
	if end <= 1 {
		return "", "", false
	}
	name := line[1:end]
	if strings.ContainsAny(name, " []") {
		return "", "", false
	}
	return entities.EngineID(name), line[end+2:], true
}

// joinDescription orders segments by engine priority then text, dropping repeats
func (s *findingsService) joinDescription(segs []descriptionSegment) string {
	sort.SliceStable(segs, func(i, j int) bool {
		ri, rj := s.engineRank(segs[i].engine), s.engineRank(segs[j].engine)
		if ri != rj {
			return ri < rj
		}
		if segs[i].engine != segs[j].engine {
			return segs[i].engine < segs[j].engine
		}
		return segs[i].text < segs[j].text
	})

	seen := make(map[descriptionSegment]struct{}, len(segs))
	lines := make([]string, 0, len(segs))
	for _, seg := range segs {
		if _, dup := seen[seg]; dup {
			continue
		}
		seen[seg] = struct{}{}
		if seg.engine == "" {
			lines = append(lines, seg.text)
			continue
		}
		lines = append(lines, "["+string(seg.engine)+"] "+seg.text)
	}
	return strings.Join(lines, "\n")
}

// Summarize fills the aggregate fields of report from the merged findings and engine runs
func (s *findingsService) Summarize(report *entities.ScanReport, merged []entities.Finding, runs []*entities.EngineRun) {
	report.Findings = merged
	if report.Findings == nil {
		report.Findings = []entities.Finding{}
	}

	report.Counts = make(map[entities.Severity]int, len(entities.Severities))
	for _, sev := range entities.Severities {
		report.Counts[sev] = 0
	}
	report.ByEngine = make(map[entities.EngineID]int)
	for _, run := range runs {
		if run != nil {
			report.ByEngine[run.Engine] = 0
		}
	}
	for i := range merged {
		report.Counts[merged[i].Severity]++
		for _, e := range merged[i].Engines {
			report.ByEngine[e]++
		}
	}

	report.EngineErrors = []entities.EngineError{}
	report.ParseWarnings = nil
	for _, run := range runs {
		if run == nil {
			continue
		}
		if !run.Succeeded() {
			reason := string(run.Status)
			if run.Err != nil {
				reason = run.Err.Error()
			}
			report.EngineErrors = append(report.EngineErrors, entities.EngineError{
				Engine: run.Engine,
				Status: run.Status,
				Reason: reason,
			})
		}
		if run.Skipped > 0 || len(run.Warnings) > 0 {
			report.ParseWarnings = append(report.ParseWarnings, entities.ParseWarning{
				Engine:  run.Engine,
				Skipped: run.Skipped,
				Samples: sampleWarnings(run.Warnings, maxWarningSamples),
			})
		}
	}
}

// maxWarningSamples bounds the warnings copied into a report per engine
const maxWarningSamples = 5

func sampleWarnings(warnings []string, n int) []string {
	if len(warnings) <= n {
		return append([]string(nil), warnings...)
	}
	return append([]string(nil), warnings[:n]...)
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
