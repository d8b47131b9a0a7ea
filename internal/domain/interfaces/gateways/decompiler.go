package gateways

import (
	"context"

	"github.com/ochairo/geiger/internal/domain/entities"
)

// Decompiler produces one decompiled tree from an archive
type Decompiler interface {
	// Tree returns which tree this decompiler produces
	Tree() entities.TreeKind

	// Decompile writes the tree into outDir and verifies its expected files
	Decompile(ctx context.Context, archive, outDir string) error
}

// DecompileCache stores decompilation results keyed by artifact identity
type DecompileCache interface {
	// GetOrCreate returns a valid entry, building it at most once per key
	GetOrCreate(ctx context.Context, artifact *entities.Artifact) (*entities.CacheEntry, error)

	// Invalidate removes the entry for key from memory and disk
	Invalidate(key string) error

	// List returns every published entry
	List() ([]*entities.CacheEntry, error)

	// Purge removes every entry
	Purge() error
}

// SourceLocator maps engine-native locations onto the decompiled trees
type SourceLocator interface {
	// Anchor fills Location, Class and Method of each finding
	Anchor(entry *entities.CacheEntry, findings []entities.EngineFinding) []entities.EngineFinding

	// Resolve returns the absolute file and line a location points at
	Resolve(entry *entities.CacheEntry, loc entities.Location) (string, int, error)
}
