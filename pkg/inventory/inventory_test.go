package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndLookup(t *testing.T) {
	inv := New()
	require.NoError(t, inv.Add(FileRecord{Path: "b.txt", Size: 2}))
	require.NoError(t, inv.Add(FileRecord{Path: "a.txt", Size: 1}))

	assert.Equal(t, 2, inv.Len())
	assert.True(t, inv.Has("a.txt"))
	assert.False(t, inv.Has("c.txt"))

	rec, ok := inv.Get("b.txt")
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.Size)
}

func TestAddRejectsDuplicates(t *testing.T) {
	inv := New()
	require.NoError(t, inv.Add(FileRecord{Path: "a.txt"}))
	assert.Error(t, inv.Add(FileRecord{Path: "a.txt"}))
}

func TestAddRejectsEmptyPath(t *testing.T) {
	assert.Error(t, New().Add(FileRecord{}))
}

func TestPathsSorted(t *testing.T) {
	inv := New()
	for _, p := range []string{"z.txt", "a/b.txt", "a.txt", "m/n/o.txt"} {
		require.NoError(t, inv.Add(FileRecord{Path: p}))
	}
	assert.Equal(t, []string{"a.txt", "a/b.txt", "m/n/o.txt", "z.txt"}, inv.Paths())

	// adding invalidates the cached order
	require.NoError(t, inv.Add(FileRecord{Path: "b.txt"}))
	assert.Equal(t, []string{"a.txt", "a/b.txt", "b.txt", "m/n/o.txt", "z.txt"}, inv.Paths())
}

func TestDegraded(t *testing.T) {
	assert.True(t, FileRecord{Path: "a"}.Degraded())
	assert.False(t, FileRecord{Path: "a", Checksum: "abc"}.Degraded())
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a/b.txt", want: "a/b.txt"},
		{in: "/a/b.txt", want: "a/b.txt"},
		{in: "a//b.txt", want: "a/b.txt"},
		{in: "./a/b.txt", want: "a/b.txt"},
		{in: "a/./b.txt", want: "a/b.txt"},
		{in: "a/c/../b.txt", want: "a/b.txt"},
		{in: `dir\file.txt`, want: "dir/file.txt"},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
		{in: "/", wantErr: true},
		{in: "..", wantErr: true},
		{in: "../x", wantErr: true},
		{in: "a/../../x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "", NormalizePrefix(""))
	assert.Equal(t, "", NormalizePrefix("/"))
	assert.Equal(t, "docs/", NormalizePrefix("docs"))
	assert.Equal(t, "docs/", NormalizePrefix("/docs/"))
	assert.Equal(t, "a/b/", NormalizePrefix("a/b"))
}
