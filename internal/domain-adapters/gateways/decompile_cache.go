package gateways

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/ochairo/geiger/internal/domain/entities"
	"github.com/ochairo/geiger/internal/domain/interfaces"
	"github.com/ochairo/geiger/internal/domain/interfaces/gateways"
)

const (
	entryFileName  = "entry.json"
	bytecodeSubdir = "bytecode"
	sourceSubdir   = "source"
	partialDirName = ".partial"
	tempDirPrefix  = ".tmp-"
	oldDirPrefix   = ".old-"
)

// DecompileCache keeps decompiled trees on disk, one directory per artifact key.
//
// Layout:
//
//	<root>/<key>/entry.json
//	<root>/<key>/bytecode/...
//	<root>/<key>/source/...
//	<root>/.partial/<key>/...   unpublished single-tree builds
//
// A key is built at most once at a time; builds of different keys run in
// parallel up to the configured limit. Entries are published by renaming a
// fully built temp directory, so readers never see a half-written entry.
type DecompileCache struct {
	root     string
	bytecode gateways.Decompiler
	source   gateways.Decompiler
	slots    *semaphore.Weighted
	flight   singleflight.Group
	logger   interfaces.Logger
	now      func() time.Time

	mu   sync.RWMutex
	memo map[string]*entities.CacheEntry
}

// NewDecompileCache creates a cache rooted at root.
// threads bounds concurrent builds; values below 1 are treated as 1.
func NewDecompileCache(root string, threads int, bytecode, source gateways.Decompiler, logger interfaces.Logger) *DecompileCache {
	if threads < 1 {
		threads = 1
	}
	return &DecompileCache{
		root:     root,
		bytecode: bytecode,
		source:   source,
		slots:    semaphore.NewWeighted(int64(threads)),
		logger:   interfaces.OrNoOp(logger),
		now:      func() time.Time { return time.Now().UTC() },
		memo:     make(map[string]*entities.CacheEntry),
	}
}

// Root returns the cache root directory
func (c *DecompileCache) Root() string {
	return c.root
}

// Slots returns the process slots builds hold while decompiling.
// Engine runs that share it count against the same threads limit.
func (c *DecompileCache) Slots() *semaphore.Weighted {
	return c.slots
}

// GetOrCreate returns a valid entry for artifact, building it when absent.
// Concurrent callers for the same key share one build. A failed build
// returns a *DecompileError and publishes nothing.
func (c *DecompileCache) GetOrCreate(ctx context.Context, artifact *entities.Artifact) (*entities.CacheEntry, error) {
	key := artifact.Key()

	for {
		if entry := c.lookup(key); entry != nil {
			c.logger.Debug("Cache hit", interfaces.F("key", key))
			return entry, nil
		}

		ch := c.flight.DoChan(key, func() (interface{}, error) {
			if entry := c.lookup(key); entry != nil {
				return entry, nil
			}
			return c.build(ctx, artifact)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}

		if res.Err != nil {
			// The leader's context ended, not ours: take over the build
			if isContextErr(res.Err) && ctx.Err() == nil {
				continue
			}
			return nil, res.Err
		}
		//nolint:forcetypeassert // build only ever returns *entities.CacheEntry
		return res.Val.(*entities.CacheEntry), nil
	}
}

// lookup checks memory, then disk, for a valid published entry
func (c *DecompileCache) lookup(key string) *entities.CacheEntry {
	c.mu.RLock()
	entry, ok := c.memo[key]
	c.mu.RUnlock()
	if ok {
		return entry
	}

	entry, err := c.loadEntry(key)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("Ignoring unusable cache entry",
				interfaces.F("key", key),
				interfaces.F("error", err.Error()))
		}
		return nil
	}

	c.mu.Lock()
	c.memo[key] = entry
	c.mu.Unlock()
	return entry
}

// loadEntry reads and validates <root>/<key>/entry.json
func (c *DecompileCache) loadEntry(key string) (*entities.CacheEntry, error) {
	dir := filepath.Join(c.root, key)
	//nolint:gosec // G304: Path is built from the cache root and a sanitized key
	data, err := os.ReadFile(filepath.Join(dir, entryFileName))
	if err != nil {
		return nil, err
	}

	var entry entities.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", entryFileName, err)
	}
	if entry.Key != key {
		return nil, fmt.Errorf("entry key %q does not match directory %q", entry.Key, key)
	}
	if !entry.Valid() {
		return nil, fmt.Errorf("entry %s is not complete", key)
	}

	// Paths are always derived from the current root so a moved cache still works
	entry.BytecodeDir = filepath.Join(dir, bytecodeSubdir)
	entry.SourceDir = filepath.Join(dir, sourceSubdir)
	if err := VerifyBytecodeTree(entry.BytecodeDir); err != nil {
		return nil, err
	}
	if err := VerifySourceTree(entry.SourceDir); err != nil {
		return nil, err
	}
	return &entry, nil
}

// build decompiles artifact into a temp directory and publishes it
func (c *DecompileCache) build(ctx context.Context, artifact *entities.Artifact) (*entities.CacheEntry, error) {
	key := artifact.Key()

	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.slots.Release(1)

	if err := os.MkdirAll(c.root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}
	tmp, err := os.MkdirTemp(c.root, tempDirPrefix+key+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	c.logger.Info("Decompiling artifact",
		interfaces.F("key", key),
		interfaces.F("archive", artifact.Path))
	start := time.Now()

	// The two decompilers are independent; a failed bytecode tree does not skip the source tree
	var steps []entities.DecompileStep
	for _, d := range []gateways.Decompiler{c.bytecode, c.source} {
		out := filepath.Join(tmp, treeSubdir(d.Tree()))
		if err := d.Decompile(ctx, artifact.Path, out); err != nil {
			if ctx.Err() != nil {
				c.removeAll(tmp)
				return nil, ctx.Err()
			}
			c.logger.Warn("Decompile step failed",
				interfaces.F("key", key),
				interfaces.F("tree", string(d.Tree())),
				interfaces.F("error", err.Error()))
			steps = append(steps, entities.DecompileStep{Tree: d.Tree(), Err: err})
		}
	}

	entry := &entities.CacheEntry{
		Key:         key,
		PackageID:   artifact.PackageID,
		Fingerprint: artifact.Fingerprint,
		CreatedAt:   c.now(),
	}
	decErr := &entities.DecompileError{Key: key, Steps: steps}
	entry.BytecodeComplete = !decErr.Failed(entities.TreeBytecode)
	entry.SourceComplete = !decErr.Failed(entities.TreeSource)

	if len(steps) > 0 {
		decErr.Partial = c.keepPartial(tmp, entry)
		return nil, decErr
	}

	final := filepath.Join(c.root, key)
	entry.BytecodeDir = filepath.Join(final, bytecodeSubdir)
	entry.SourceDir = filepath.Join(final, sourceSubdir)
	if err := writeJSONAtomic(filepath.Join(tmp, entryFileName), entry); err != nil {
		c.removeAll(tmp)
		return nil, fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := c.publish(tmp, final); err != nil {
		c.removeAll(tmp)
		return nil, err
	}

	c.mu.Lock()
	c.memo[key] = entry
	c.mu.Unlock()

	c.logger.Info("Cache entry published",
		interfaces.F("key", key),
		interfaces.F("duration", time.Since(start).Round(time.Millisecond).String()))
	return entry, nil
}

// keepPartial moves a single-tree build aside for degraded scans.
// It returns nil (and removes the build) when no tree completed.
func (c *DecompileCache) keepPartial(tmp string, entry *entities.CacheEntry) *entities.CacheEntry {
	if !entry.BytecodeComplete && !entry.SourceComplete {
		c.removeAll(tmp)
		return nil
	}

	dest := filepath.Join(c.root, partialDirName, entry.Key)
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err == nil {
		c.removeAll(dest)
		err = os.Rename(tmp, dest)
		if err == nil {
			partial := *entry
			if partial.BytecodeComplete {
				partial.BytecodeDir = filepath.Join(dest, bytecodeSubdir)
			}
			if partial.SourceComplete {
				partial.SourceDir = filepath.Join(dest, sourceSubdir)
			}
			return &partial
		}
		c.logger.Warn("Failed to keep partial build",
			interfaces.F("key", entry.Key),
			interfaces.F("error", err.Error()))
	}
	c.removeAll(tmp)
	return nil
}

// publish atomically replaces final with the completed build in tmp
func (c *DecompileCache) publish(tmp, final string) error {
	var old string
	if _, err := os.Stat(final); err == nil {
		old = filepath.Join(c.root, fmt.Sprintf("%s%s-%d", oldDirPrefix, filepath.Base(final), time.Now().UnixNano()))
		if err := os.Rename(final, old); err != nil {
			return fmt.Errorf("failed to move old entry aside: %w", err)
		}
	}
	if err := os.Rename(tmp, final); err != nil {
		if old != "" {
			_ = os.Rename(old, final)
		}
		return fmt.Errorf("failed to publish cache entry: %w", err)
	}
	if old != "" {
		c.removeAll(old)
	}
	return nil
}

// Invalidate removes the entry for key, including any partial build
func (c *DecompileCache) Invalidate(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("invalid cache key %q", key)
	}

	c.mu.Lock()
	delete(c.memo, key)
	c.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(c.root, key)); err != nil {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(c.root, partialDirName, key)); err != nil {
		return fmt.Errorf("failed to remove partial build: %w", err)
	}
	return nil
}

// List returns every valid published entry, sorted by key
func (c *DecompileCache) List() ([]*entities.CacheEntry, error) {
	dirs, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache root: %w", err)
	}

	var entries []*entities.CacheEntry
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		entry, err := c.loadEntry(d.Name())
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Purge removes every entry, partial build and leftover temp directory
func (c *DecompileCache) Purge() error {
	c.mu.Lock()
	c.memo = make(map[string]*entities.CacheEntry)
	c.mu.Unlock()

	dirs, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read cache root: %w", err)
	}
	var errs []error
	for _, d := range dirs {
		if err := os.RemoveAll(filepath.Join(c.root, d.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to purge cache: %w", errors.Join(errs...))
	}
	return nil
}

func (c *DecompileCache) removeAll(path string) {
	if err := os.RemoveAll(path); err != nil {
		c.logger.Warn("Failed to remove directory",
			interfaces.F("path", path),
			interfaces.F("error", err.Error()))
	}
}

func treeSubdir(kind entities.TreeKind) string {
	if kind == entities.TreeSource {
		return sourceSubdir
	}
	return bytecodeSubdir
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// writeJSONAtomic writes v as indented JSON via a temp file and rename
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

var _ gateways.DecompileCache = (*DecompileCache)(nil)
