// Package planner computes the change plan that converges the remote zone
// to the local tree: which paths to upload, which remote-only paths to
// delete, and how many files are already identical. Build is a pure
// function over two fully-assembled inventories.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/edgeops/edgesync/pkg/checksum"
	"github.com/edgeops/edgesync/pkg/inventory"
)

// Action is the operation a plan item performs.
type Action string

const (
	ActionUpload Action = "upload"
	ActionDelete Action = "delete"
)

// Item is one planned operation.
type Item struct {
	Action Action

	// Path is the normalized remote-relative path.
	Path string

	// LocalPath is the filesystem path to read for uploads. Empty on
	// deletions.
	LocalPath string

	// Size in bytes, for uploads.
	Size int64

	// Checksum is the local file's hex SHA-256, for uploads.
	Checksum string

	// Reason states why this action was chosen.
	Reason string
}

// Plan is the complete set of operations plus the count of files that need
// none.
type Plan struct {
	Items     []Item
	Unchanged int
}

// Uploads returns the upload items in scheduling order.
func (p Plan) Uploads() []Item {
	return p.byAction(ActionUpload)
}

// Deletions returns the deletion items.
func (p Plan) Deletions() []Item {
	return p.byAction(ActionDelete)
}

func (p Plan) byAction(a Action) []Item {
	var items []Item
	for _, item := range p.Items {
		if item.Action == a {
			items = append(items, item)
		}
	}
	return items
}

// Empty reports whether the plan has no operations.
func (p Plan) Empty() bool {
	return len(p.Items) == 0
}

// Options tune plan construction.
type Options struct {
	// Force uploads every local file regardless of remote state. The
	// escape hatch for zones that report no checksums.
	Force bool

	// Protect lists doublestar patterns whose remote matches are never
	// deleted, plus exact paths like the sync lockfile.
	Protect []string
}

// Build diffs the local inventory against the remote one.
//
// A local file uploads when it is absent remotely, when checksums differ,
// or, for degraded remote records (no checksum), when sizes differ or the
// remote copy is older than the local one. The degraded comparison is a
// best-effort heuristic, not a guarantee; Force exists for when it cannot
// be trusted. A remote file deletes when it has no local counterpart and no
// protect pattern covers it.
//
// Uploads are ordered with HTML last so pages go live only after the assets
// they reference; deletions follow in path order.
func Build(local, remote *inventory.Inventory, opts Options) Plan {
	var plan Plan

	for _, path := range local.Paths() {
		rec, _ := local.Get(path)
		remoteRec, exists := remote.Get(path)

		switch {
		case !exists:
			plan.Items = append(plan.Items, uploadItem(rec, "new file"))
		case opts.Force:
			plan.Items = append(plan.Items, uploadItem(rec, "forced"))
		case !remoteRec.Degraded():
			if checksum.Equal(rec.Checksum, remoteRec.Checksum) {
				plan.Unchanged++
			} else {
				plan.Items = append(plan.Items, uploadItem(rec, "checksum differs"))
			}
		default:
			// No remote checksum: size plus mtime is the best proxy
			// available.
			if rec.Size != remoteRec.Size {
				plan.Items = append(plan.Items, uploadItem(rec,
					fmt.Sprintf("size differs (local %d, remote %d)", rec.Size, remoteRec.Size)))
			} else if remoteRec.ModTime.Before(rec.ModTime) {
				plan.Items = append(plan.Items, uploadItem(rec, "remote older than local"))
			} else {
				plan.Unchanged++
			}
		}
	}

	var deletions []Item
	for _, path := range remote.Paths() {
		if local.Has(path) || isProtected(path, opts.Protect) {
			continue
		}
		deletions = append(deletions, Item{
			Action: ActionDelete,
			Path:   path,
			Reason: "not in local tree",
		})
	}

	sortUploads(plan.Items)
	plan.Items = append(plan.Items, deletions...)
	return plan
}

func uploadItem(rec inventory.FileRecord, reason string) Item {
	return Item{
		Action:    ActionUpload,
		Path:      rec.Path,
		LocalPath: rec.LocalPath,
		Size:      rec.Size,
		Checksum:  rec.Checksum,
		Reason:    reason,
	}
}

// sortUploads orders uploads path-ascending with HTML pages last, so a
// half-finished run leaves assets in place before the pages that use them.
func sortUploads(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if isHTML(items[i].Path) != isHTML(items[j].Path) {
			return !isHTML(items[i].Path)
		}
		return items[i].Path < items[j].Path
	})
}

func isHTML(path string) bool {
	return strings.HasSuffix(path, ".html") || strings.HasSuffix(path, ".htm")
}

func isProtected(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
		if path == pattern || strings.HasPrefix(path, strings.TrimSuffix(pattern, "/")+"/") {
			return true
		}
	}
	return false
}
