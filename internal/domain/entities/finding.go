package entities

// EngineID identifies an analysis engine
type EngineID string

const (
	// EngineNuclei is the template-based pattern engine
	EngineNuclei EngineID = "nuclei"
	// EngineReavs is the source-to-sink taint engine
	EngineReavs EngineID = "reavs"
)

// Location points at a place inside one of the decompiled trees.
// Path is relative to the tree root. Symbol carries a class or
// Class->method reference when the engine reported one.
type Location struct {
	Tree   TreeKind `json:"tree,omitempty"`
	Path   string   `json:"path,omitempty"`
	Line   int      `json:"line,omitempty"`
	Symbol string   `json:"symbol,omitempty"`
}

// EngineFinding is one record as reported by an engine, before merge.
// Severity is still in the engine's native vocabulary.
type EngineFinding struct {
	Engine         EngineID
	Rule           string
	NativeSeverity string
	Title          string
	Description    string
	Tags           []string
	References     []string
	RawLocation    string // absolute path, path:line, or class name as emitted
	Line           int
	Snippet        string
	Confidence     string
	Symbol         string // Class->method when known

	// Filled by the locator before merge
	Location Location
	Class    string
	Method   string
}

// Finding is the canonical, merged security finding.
// Engines is a sorted set; a finding reported by two engines lists both.
type Finding struct {
	ID          string     `json:"id"`
	Engines     []EngineID `json:"engines"`
	Severity    Severity   `json:"severity"`
	Rule        string     `json:"rule"`
	Category    string     `json:"category"`
	Title       string     `json:"title"`
	Location    Location   `json:"location"`
	Snippet     string     `json:"snippet,omitempty"`
	Description string     `json:"description,omitempty"`
	Confidence  string     `json:"confidence,omitempty"`
	References  []string   `json:"references,omitempty"`
}

// HasEngine reports whether the finding is attributed to engine
func (f *Finding) HasEngine(engine EngineID) bool {
	for _, e := range f.Engines {
		if e == engine {
			return true
		}
	}
	return false
}
