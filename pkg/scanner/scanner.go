// Package scanner builds the local inventory: a sorted snapshot of every
// regular file under a root directory with its size, modification time and
// streamed SHA-256 fingerprint.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"github.com/edgeops/edgesync/pkg/checksum"
	"github.com/edgeops/edgesync/pkg/errclass"
	"github.com/edgeops/edgesync/pkg/inventory"
)

// Scanner walks a local directory tree.
type Scanner struct {
	fs      afero.Fs
	root    string
	ignores []string
}

// New creates a scanner for root. Ignore patterns use doublestar syntax and
// match against the forward-slash relative path.
func New(fs afero.Fs, root string, ignores []string) *Scanner {
	return &Scanner{fs: fs, root: root, ignores: ignores}
}

// Scan walks the tree and returns the inventory. Symlinks are skipped, so a
// link back into the tree cannot cause a cycle. The root must exist and be
// a directory; anything else is a local IO failure.
func (s *Scanner) Scan(ctx context.Context) (*inventory.Inventory, error) {
	info, err := s.fs.Stat(s.root)
	if err != nil {
		return nil, errclass.New("scan", s.root, errclass.KindLocalIO, err)
	}
	if !info.IsDir() {
		return nil, errclass.New("scan", s.root, errclass.KindLocalIO,
			fmt.Errorf("not a directory"))
	}

	inv := inventory.New()
	err = afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", path, err)
		}
		key, err := inventory.NormalizePath(filepath.ToSlash(relPath))
		if err != nil {
			return fmt.Errorf("normalize %s: %w", relPath, err)
		}
		if s.ignored(key) {
			return nil
		}

		sum, err := checksum.File(s.fs, path)
		if err != nil {
			return fmt.Errorf("fingerprint %s: %w", path, err)
		}

		return inv.Add(inventory.FileRecord{
			Path:      key,
			Size:      info.Size(),
			Checksum:  sum,
			ModTime:   info.ModTime(),
			LocalPath: path,
		})
	})
	if err != nil {
		return nil, errclass.New("scan", s.root, errclass.KindLocalIO, err)
	}

	return inv, nil
}

func (s *Scanner) ignored(relPath string) bool {
	for _, pattern := range s.ignores {
		// Directory patterns ("assets/") cover everything under them.
		if strings.HasSuffix(pattern, "/") {
			if strings.HasPrefix(relPath, pattern) {
				return true
			}
			continue
		}
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return true
		}
		// A pattern naming a directory also covers its contents.
		if strings.HasPrefix(relPath, pattern+"/") {
			return true
		}
	}
	return false
}
