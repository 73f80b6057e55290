// Package cache implements the Artifact Cache contract of §4.5: a
// content-addressed store keyed by rule key, with fetch/store operations
// that may suspend and deduplicate in-flight fetches but are not required
// to deduplicate writes.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/djherbis/atime"

	"github.com/forgecell/forgeorch/internal/digest"
	"github.com/forgecell/forgeorch/internal/oncecell"
)

// Metadata accompanies a cache entry's artifact bytes (§3 "Artifact Cache
// Entry ... metadata includes recorded output paths and content hashes").
type Metadata struct {
	// Outputs maps each recorded output's relative path to its content
	// digest, exactly as it should appear on the filesystem on restore.
	Outputs map[string]digest.Digest

	// LastAccess is read back from the backing store via atime on Fetch
	// (SPEC_FULL.md "Cache entry access metadata"); the engine never acts
	// on it, it exists purely for an external eviction tool (§4.5, §1).
	LastAccess int64
}

// Entry is a fetched or about-to-be-stored artifact bundle.
type Entry struct {
	Key      digest.Digest
	Contents map[string][]byte // output path -> bytes
	Metadata Metadata
}

// ErrMiss is returned by Fetch when the rule key is not present in the
// cache (§4.5 "fetch(rule-key) -> Result<..., Miss | Error>").
var ErrMiss = fmt.Errorf("cache: miss")

// Cache is the artifact-cache contract. Implementations must tolerate
// concurrent Fetch calls for the same key without duplicating network
// work (§4.5 "Concurrency"); Store may be best-effort (§4.5 "A store
// operation may be best-effort").
type Cache interface {
	Fetch(key digest.Digest) (*Entry, error) // returns ErrMiss on a miss
	Store(entry Entry) error
}

// FileCache is a local-filesystem-backed Cache, grounded on the pattern
// inferred from the teacher's cli.cacheForMode(...)/core.NewFileCache
// call site: a directory of blobs named by hex digest, one file per output
// path, plus a small metadata sidecar.
type FileCache struct {
	dir      string
	inFlight *oncecell.Map[digest.Digest, *Entry]
}

// NewFileCache constructs a FileCache rooted at dir. The directory is not
// created here; Store creates entry directories as it needs them.
func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir, inFlight: oncecell.NewMap[digest.Digest, *Entry]()}
}

func (c *FileCache) entryDir(key digest.Digest) string {
	hex := key.String()
	return filepath.Join(c.dir, hex[:2], hex)
}

// Fetch implements Cache. Concurrent fetches for the same key share one
// underlying read via the oncecell memo (§4.5 "the cache must deduplicate
// network work").
func (c *FileCache) Fetch(key digest.Digest) (*Entry, error) {
	cell := c.inFlight.LoadOrStore(key)
	return cell.Get(func() (*Entry, error) {
		return c.fetchUncached(key)
	})
}

func (c *FileCache) fetchUncached(key digest.Digest) (*Entry, error) {
	dir := c.entryDir(key)
	manifestPath := filepath.Join(dir, "manifest")

	manifest, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: reading manifest: %w", err)
	}

	outputs, err := parseManifest(manifest)
	if err != nil {
		// A malformed cache entry is treated as a miss (§7 "malformed cache
		// entries are treated as a miss"), not a build failure.
		return nil, ErrMiss
	}

	contents := make(map[string][]byte, len(outputs))
	for relPath := range outputs {
		data, err := os.ReadFile(filepath.Join(dir, "blob", relPath))
		if err != nil {
			return nil, ErrMiss
		}
		contents[relPath] = data
	}

	lastAccess := int64(0)
	if at, err := atime.Stat(manifestPath); err == nil {
		lastAccess = at.Unix()
	}

	return &Entry{
		Key:      key,
		Contents: contents,
		Metadata: Metadata{Outputs: outputs, LastAccess: lastAccess},
	}, nil
}

// Store implements Cache and returns any error to its caller. The
// scheduler discards that error, so a failed store neither fails the
// build nor is logged.
func (c *FileCache) Store(entry Entry) error {
	dir := c.entryDir(entry.Key)
	if err := os.MkdirAll(filepath.Join(dir, "blob"), 0o755); err != nil {
		return fmt.Errorf("cache: creating entry dir: %w", err)
	}

	for relPath, data := range entry.Contents {
		dst := filepath.Join(dir, "blob", relPath)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("cache: creating output dir: %w", err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("cache: writing blob %s: %w", relPath, err)
		}
	}

	manifest := renderManifest(entry.Metadata.Outputs)
	if err := os.WriteFile(filepath.Join(dir, "manifest"), manifest, 0o644); err != nil {
		return fmt.Errorf("cache: writing manifest: %w", err)
	}
	return nil
}

// Has reports whether key is present, used by the incremental-plan-style
// cache presence check (§4.5, mirrors the teacher's incremental.BuildIncrementalPlan
// cache.Has call).
func (c *FileCache) Has(key digest.Digest) (bool, error) {
	_, err := c.Fetch(key)
	if err == ErrMiss {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func renderManifest(outputs map[string]digest.Digest) []byte {
	var b []byte
	paths := make([]string, 0, len(outputs))
	for p := range outputs {
		paths = append(paths, p)
	}
	sortStrings(paths)
	for _, p := range paths {
		b = append(b, []byte(p+" "+outputs[p].String()+"\n")...)
	}
	return b
}

func parseManifest(data []byte) (map[string]digest.Digest, error) {
	out := make(map[string]digest.Digest)
	line := make([]byte, 0, 128)
	flush := func() error {
		if len(line) == 0 {
			return nil
		}
		s := string(line)
		sp := lastSpace(s)
		if sp < 0 {
			return fmt.Errorf("cache: malformed manifest line %q", s)
		}
		path, hexDigest := s[:sp], s[sp+1:]
		d, err := digest.FromHex(hexDigest)
		if err != nil {
			return err
		}
		out[path] = d
		return nil
	}
	for _, b := range data {
		if b == '\n' {
			if err := flush(); err != nil {
				return nil, err
			}
			line = line[:0]
			continue
		}
		line = append(line, b)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return i
		}
	}
	return -1
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// NoCache implements Cache for non-cacheable rules (§4.5 "A rule may
// declare itself non-cacheable; such rules skip both fetch and store").
type NoCache struct{}

func (NoCache) Fetch(digest.Digest) (*Entry, error) { return nil, ErrMiss }
func (NoCache) Store(Entry) error                   { return nil }
