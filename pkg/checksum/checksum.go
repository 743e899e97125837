// Package checksum computes the content fingerprints used to compare local
// files against remote objects. The storage API reports SHA-256 checksums as
// hex strings, so that is the canonical fingerprint format.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
)

const bufferSize = 64 * 1024 // 64KB buffer

// File streams the file at path through SHA-256 and returns the lowercase
// hex digest. The file is never loaded into memory at once.
func File(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	return Reader(f)
}

// Reader calculates the SHA-256 digest of everything readable from r and
// returns it as a lowercase hex string.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, bufferSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return "", fmt.Errorf("write to hash: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Normalize canonicalizes a checksum for comparison. The storage API reports
// uppercase hex; local digests are lowercase.
func Normalize(sum string) string {
	return strings.ToLower(sum)
}

// Equal compares two hex checksums, ignoring case. Empty checksums never
// compare equal: an absent fingerprint carries no information.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return Normalize(a) == Normalize(b)
}
