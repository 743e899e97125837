package scanner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
}

func TestScan(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"site/index.html":     "<html></html>",
		"site/css/style.css":  "body {}",
		"site/img/logo.png":   "png-bytes",
		"site/img/deep/a.txt": "a",
	})

	inv, err := New(fs, "site", nil).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"css/style.css",
		"img/deep/a.txt",
		"img/logo.png",
		"index.html",
	}, inv.Paths())

	rec, ok := inv.Get("css/style.css")
	require.True(t, ok)
	assert.Equal(t, int64(len("body {}")), rec.Size)
	assert.False(t, rec.Degraded())
}

func TestScanFingerprints(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{"root/hello.txt": "hello"})

	inv, err := New(fs, "root", nil).Scan(context.Background())
	require.NoError(t, err)

	rec, ok := inv.Get("hello.txt")
	require.True(t, ok)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", rec.Checksum)
}

func TestScanMissingRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := New(fs, "nope", nil).Scan(context.Background())
	assert.Error(t, err)
}

func TestScanRootIsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{"file.txt": "x"})
	_, err := New(fs, "file.txt", nil).Scan(context.Background())
	assert.Error(t, err)
}

func TestScanIgnores(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"root/keep.txt":          "1",
		"root/skip.log":          "2",
		"root/tmp/scratch.txt":   "3",
		"root/nested/other.log":  "4",
		"root/nested/keep2.html": "5",
	})

	inv, err := New(fs, "root", []string{"**/*.log", "tmp"}).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"keep.txt", "nested/keep2.html"}, inv.Paths())
}

func TestScanIgnoresDirectoryPattern(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"root/a.txt":        "1",
		"root/cache/b.txt":  "2",
		"root/cache/c/d.js": "3",
	})

	inv, err := New(fs, "root", []string{"cache/"}).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, inv.Paths())
}

func TestScanSkipsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "real.txt"), []byte("x"), 0o644))
	// link back to the root: would loop forever if followed
	require.NoError(t, os.Symlink(root, filepath.Join(root, "sub", "loop")))
	require.NoError(t, os.Symlink(filepath.Join(root, "sub", "real.txt"), filepath.Join(root, "link.txt")))

	inv, err := New(afero.NewOsFs(), root, nil).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/real.txt"}, inv.Paths())
}

func TestScanCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{"root/a.txt": "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(fs, "root", nil).Scan(ctx)
	assert.Error(t, err)
}
