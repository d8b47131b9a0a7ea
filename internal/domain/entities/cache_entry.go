package entities

import "time"

// TreeKind identifies one of the two decompiled trees
type TreeKind string

const (
	// TreeBytecode is the resource/bytecode tree (apktool output: smali, manifest, res)
	TreeBytecode TreeKind = "bytecode"
	// TreeSource is the readable-source tree (jadx output: sources, resources)
	TreeSource TreeKind = "source"
)

// TreeSet is a set of trees an engine needs
type TreeSet uint8

const (
	// NeedBytecode marks the bytecode tree as required
	NeedBytecode TreeSet = 1 << iota
	// NeedSource marks the source tree as required
	NeedSource
)

// Has reports whether the set contains every tree in other
func (s TreeSet) Has(other TreeSet) bool {
	return s&other == other
}

// CacheEntry is one published decompilation result.
// Entries are never modified after publish; a rebuild replaces the entry.
type CacheEntry struct {
	Key              string    `json:"key"`
	PackageID        string    `json:"package_id"`
	Fingerprint      string    `json:"fingerprint"`
	BytecodeDir      string    `json:"bytecode_dir"`
	SourceDir        string    `json:"source_dir"`
	CreatedAt        time.Time `json:"created_at"`
	BytecodeComplete bool      `json:"bytecode_complete"`
	SourceComplete   bool      `json:"source_complete"`
}

// Valid reports whether both trees finished successfully
func (e *CacheEntry) Valid() bool {
	return e != nil && e.BytecodeComplete && e.SourceComplete
}

// Available returns the set of trees that completed
func (e *CacheEntry) Available() TreeSet {
	var s TreeSet
	if e == nil {
		return s
	}
	if e.BytecodeComplete {
		s |= NeedBytecode
	}
	if e.SourceComplete {
		s |= NeedSource
	}
	return s
}

// TreeDir returns the root directory of the given tree
func (e *CacheEntry) TreeDir(kind TreeKind) string {
	switch kind {
	case TreeBytecode:
		return e.BytecodeDir
	case TreeSource:
		return e.SourceDir
	default:
		return ""
	}
}
