// Package inventory defines the file records the planner diffs: one
// snapshot of the local tree, one of the remote storage zone, both keyed by
// normalized relative path.
package inventory

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// FileRecord describes one file, local or remote.
type FileRecord struct {
	// Path is the normalized relative path: forward slashes, no leading
	// slash, no "."/".." segments. Local and remote records with the same
	// Path describe the same object.
	Path string

	// Size in bytes.
	Size int64

	// Checksum is the lowercase hex SHA-256 of the content. Empty for
	// remote records when the service did not report one; such records
	// are degraded and compare by size and modification time only.
	Checksum string

	// ModTime is the local mtime or the remote last-modified timestamp.
	ModTime time.Time

	// LocalPath is the filesystem path to open for uploads. Empty on
	// remote records.
	LocalPath string
}

// Degraded reports whether the record lacks a content checksum and can only
// be compared by size and modification time.
func (r FileRecord) Degraded() bool {
	return r.Checksum == ""
}

// Inventory is a snapshot of file records with unique, sorted paths. It is
// fully built before diffing begins and never mutated afterwards.
type Inventory struct {
	records map[string]FileRecord
	sorted  []string
	dirty   bool
}

// New returns an empty inventory.
func New() *Inventory {
	return &Inventory{records: make(map[string]FileRecord)}
}

// Add inserts a record. Paths must be unique within a snapshot.
func (inv *Inventory) Add(rec FileRecord) error {
	if rec.Path == "" {
		return fmt.Errorf("empty path in file record")
	}
	if _, ok := inv.records[rec.Path]; ok {
		return fmt.Errorf("duplicate path %q", rec.Path)
	}
	inv.records[rec.Path] = rec
	inv.dirty = true
	return nil
}

// Get returns the record for path.
func (inv *Inventory) Get(p string) (FileRecord, bool) {
	rec, ok := inv.records[p]
	return rec, ok
}

// Has reports whether path is present.
func (inv *Inventory) Has(p string) bool {
	_, ok := inv.records[p]
	return ok
}

// Len returns the number of records.
func (inv *Inventory) Len() int {
	return len(inv.records)
}

// Paths returns all paths in sorted order.
func (inv *Inventory) Paths() []string {
	if inv.dirty || inv.sorted == nil {
		inv.sorted = make([]string, 0, len(inv.records))
		for p := range inv.records {
			inv.sorted = append(inv.sorted, p)
		}
		sort.Strings(inv.sorted)
		inv.dirty = false
	}
	return inv.sorted
}

// NormalizePath canonicalizes a relative path for use as an inventory key:
// forward slashes, no leading or trailing slash, dot segments resolved.
// Paths that escape the root are rejected.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	p = path.Clean(p)
	if p == "" || p == "." {
		return "", fmt.Errorf("path %q resolves to the root", p)
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("path %q escapes the root", p)
	}
	return p, nil
}

// NormalizePrefix canonicalizes a remote prefix: empty means the zone root,
// anything else ends with exactly one slash so keys concatenate directly.
func NormalizePrefix(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
