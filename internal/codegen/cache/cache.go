// Package cache stores generated binding declarations on disk, keyed by a
// fingerprint of everything that determines them.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/crypto/blake2b"

	"github.com/Alia5/rtebind/internal/codegen/common"
)

const ManifestName = "manifest.json"

// Fingerprint identifies a declaration set by library version, sorted shim
// names and generator tool version, plus any further inputs that shape the
// generated files (package name, surface digest). The order of shimNames
// does not matter; the order of extra does.
func Fingerprint(libVersion string, shimNames []string, toolVersion string, extra ...string) string {
	names := append([]string(nil), shimNames...)
	sort.Strings(names)
	input := "lib=" + libVersion + "\nshims=" + strings.Join(names, ",") + "\ntool=" + toolVersion + "\n"
	for _, e := range extra {
		input += "extra=" + e + "\n"
	}
	return hashBytes([]byte(input))
}

// Digest hashes lines in the given order.
func Digest(lines []string) string {
	return hashBytes([]byte(strings.Join(lines, "\n")))
}

func hashBytes(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex blake2b-256 of a file's contents.
func HashFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return hashBytes(b), nil
}

type Manifest struct {
	Fingerprint string            `json:"fingerprint"`
	LibVersion  string            `json:"libVersion"`
	ToolVersion string            `json:"toolVersion"`
	Created     time.Time         `json:"created"`
	Files       map[string]string `json:"files"`
}

const manifestSchema = `{
  "type": "object",
  "required": ["fingerprint", "libVersion", "toolVersion", "created", "files"],
  "properties": {
    "fingerprint": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "libVersion": {"type": "string", "minLength": 1},
    "toolVersion": {"type": "string", "minLength": 1},
    "created": {"type": "string", "format": "date-time"},
    "files": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
    }
  }
}`

var fingerprintRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Cache is a directory of <fingerprint>/ entries. Entries are written to a
// temp dir and renamed into place, so a reader sees either nothing or a
// complete entry.
type Cache struct {
	Dir    string
	logger *slog.Logger
	schema gojsonschema.JSONLoader
}

func New(dir string, logger *slog.Logger) *Cache {
	return &Cache{Dir: dir, logger: logger, schema: gojsonschema.NewStringLoader(manifestSchema)}
}

// Entry is a verified cache entry.
type Entry struct {
	Dir      string
	Manifest Manifest
}

// Lookup returns the entry for fp if one exists and every file matches the
// manifest. Anything else is a miss.
func (c *Cache) Lookup(fp string) (*Entry, bool) {
	if !fingerprintRe.MatchString(fp) {
		return nil, false
	}
	dir := filepath.Join(c.Dir, fp)
	m, err := c.readManifest(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("Cache entry invalid", "fingerprint", fp, "error", err)
		}
		return nil, false
	}
	if m.Fingerprint != fp {
		c.logger.Debug("Cache entry under wrong fingerprint", "fingerprint", fp, "manifest", m.Fingerprint)
		return nil, false
	}
	for name, want := range m.Files {
		got, err := HashFile(filepath.Join(dir, name))
		if err != nil || got != want {
			c.logger.Debug("Cache entry file mismatch", "fingerprint", fp, "file", name)
			return nil, false
		}
	}
	return &Entry{Dir: dir, Manifest: *m}, true
}

func (c *Cache) readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	result, err := gojsonschema.Validate(c.schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("manifest: %s", result.Errors()[0].String())
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	for name := range m.Files {
		if name != filepath.Base(name) || name == ManifestName {
			return nil, fmt.Errorf("manifest: bad file name %q", name)
		}
	}
	return &m, nil
}

// Restore copies the entry's files into outDir.
func (e *Entry) Restore(outDir string) ([]string, error) {
	names := make([]string, 0, len(e.Manifest.Files))
	for name := range e.Manifest.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(e.Dir, name))
		if err != nil {
			return nil, fmt.Errorf("read cached %s: %w", name, err)
		}
		if err := common.WriteFileAtomic(filepath.Join(outDir, name), data, 0o644); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// Store records files under fp. Losing a race against a concurrent writer
// of the same fingerprint is not an error; the winner's entry is kept.
func (c *Cache) Store(fp, libVersion, toolVersion string, files map[string][]byte) error {
	if !fingerprintRe.MatchString(fp) {
		return fmt.Errorf("invalid fingerprint %q", fp)
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.MkdirTemp(c.Dir, ".tmp-"+fp[:12]+"-")
	if err != nil {
		return fmt.Errorf("create cache temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	m := Manifest{
		Fingerprint: fp,
		LibVersion:  libVersion,
		ToolVersion: toolVersion,
		Created:     time.Now().UTC(),
		Files:       map[string]string{},
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(tmp, name), data, 0o644); err != nil {
			return fmt.Errorf("write cache file %s: %w", name, err)
		}
		m.Files[name] = hashBytes(data)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, ManifestName), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	final := filepath.Join(c.Dir, fp)
	if err := os.Rename(tmp, final); err != nil {
		if _, ok := c.Lookup(fp); ok {
			c.logger.Debug("Cache entry written concurrently, keeping existing", "fingerprint", fp)
			return nil
		}
		// A stale invalid entry blocks the rename; replace it.
		if rmErr := os.RemoveAll(final); rmErr != nil {
			return fmt.Errorf("replace cache entry: %w", rmErr)
		}
		if err := os.Rename(tmp, final); err != nil {
			return fmt.Errorf("install cache entry: %w", err)
		}
	}
	c.logger.Info("Stored bindings in cache", "fingerprint", fp, "dir", final)
	return nil
}

// Listing is one directory of the cache as seen by List.
type Listing struct {
	Fingerprint string
	Valid       bool
	Manifest    Manifest
}

// List reports every entry directory, valid or not, sorted by fingerprint.
func (c *Cache) List() ([]Listing, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	var out []Listing
	for _, e := range entries {
		if !e.IsDir() || !fingerprintRe.MatchString(e.Name()) {
			continue
		}
		l := Listing{Fingerprint: e.Name()}
		if entry, ok := c.Lookup(e.Name()); ok {
			l.Valid = true
			l.Manifest = entry.Manifest
		}
		out = append(out, l)
	}
	return out, nil
}

// tmpGrace keeps temp dirs of a Store that may still be running.
const tmpGrace = 10 * time.Minute

// Prune removes invalid entries, temp dirs older than tmpGrace and valid
// entries created before now-maxAge. A zero maxAge removes every entry.
func (c *Cache) Prune(maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	var removed []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() {
			continue
		}
		remove := false
		if strings.HasPrefix(name, ".tmp-") {
			info, err := e.Info()
			remove = err == nil && info.ModTime().Before(now.Add(-tmpGrace))
		}
		if fingerprintRe.MatchString(name) {
			entry, ok := c.Lookup(name)
			remove = !ok || maxAge == 0 || entry.Manifest.Created.Before(now.Add(-maxAge))
		}
		if !remove {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.Dir, name)); err != nil {
			return removed, fmt.Errorf("remove cache entry %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}
