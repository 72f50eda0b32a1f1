package resource

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func relPaths(rs []*Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.RelPath
	}
	return out
}

func TestExpand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.csv"), 20)
	writeFile(t, filepath.Join(root, "a.csv"), 10)
	writeFile(t, filepath.Join(root, "empty.txt"), 0)
	writeFile(t, filepath.Join(root, "sub", "c.csv"), 5)
	writeFile(t, filepath.Join(root, "sub", "deep", "d.csv"), 1)

	t.Run("DirectoryWithoutRecurse", func(t *testing.T) {
		exp := Expand([]string{root}, Options{})
		assert.Empty(t, exp.Errors)
		assert.Equal(t, []string{"a.csv", "b.csv", "empty.txt"}, relPaths(exp.Resources))
	})

	t.Run("DirectoryWithRecurse", func(t *testing.T) {
		exp := Expand([]string{root}, Options{Recurse: true})
		assert.Empty(t, exp.Errors)
		assert.Equal(t,
			[]string{"a.csv", "b.csv", "empty.txt", "sub/c.csv", "sub/deep/d.csv"},
			relPaths(exp.Resources))
	})

	t.Run("SizesKnownWithoutReading", func(t *testing.T) {
		exp := Expand([]string{filepath.Join(root, "a.csv"), filepath.Join(root, "empty.txt")}, Options{})
		require.Len(t, exp.Resources, 2)
		assert.EqualValues(t, 10, exp.Resources[0].Size)
		assert.EqualValues(t, 0, exp.Resources[1].Size)
	})

	t.Run("MissingPathIsReportedAndBatchContinues", func(t *testing.T) {
		missing := filepath.Join(root, "nope.csv")
		exp := Expand([]string{missing, filepath.Join(root, "a.csv")}, Options{})
		require.Len(t, exp.Errors, 1)
		assert.Equal(t, missing, exp.Errors[0].Path)
		assert.True(t, IsAccessError(exp.Errors[0]))
		assert.Equal(t, []string{"a.csv"}, relPaths(exp.Resources))
	})

	t.Run("OrderIsIndependentOfArgumentOrder", func(t *testing.T) {
		a := Expand([]string{filepath.Join(root, "b.csv"), filepath.Join(root, "a.csv")}, Options{})
		b := Expand([]string{filepath.Join(root, "a.csv"), filepath.Join(root, "b.csv")}, Options{})
		assert.Equal(t, relPaths(a.Resources), relPaths(b.Resources))
	})

	t.Run("SkipAndLimitWindow", func(t *testing.T) {
		exp := Expand([]string{root}, Options{Recurse: true, Skip: 1, Limit: 2})
		assert.Equal(t, []string{"b.csv", "empty.txt"}, relPaths(exp.Resources))
	})
}

func TestExpandSymlinkLoop(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dir", "x.csv"), 3)
	require.NoError(t, os.Symlink(filepath.Join(root, "dir"), filepath.Join(root, "dir", "loop")))

	exp := Expand([]string{root}, Options{Recurse: true})
	assert.Empty(t, exp.Errors)
	assert.Equal(t, []string{"dir/x.csv"}, relPaths(exp.Resources))
}

func TestWindow(t *testing.T) {
	rs := []*Resource{{RelPath: "1"}, {RelPath: "2"}, {RelPath: "3"}}

	assert.Equal(t, []string{"1", "2", "3"}, relPaths(Window(rs, 0, 0)))
	assert.Equal(t, []string{"3"}, relPaths(Window(rs, 2, 0)))
	assert.Equal(t, []string{"1"}, relPaths(Window(rs, 0, 1)))
	assert.Empty(t, Window(rs, 5, 0))
	assert.Equal(t, []string{"1", "2", "3"}, relPaths(Window(rs, -1, 10)))
}

func TestResource(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "Data.CSV")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))
	info, err := os.Stat(p)
	require.NoError(t, err)

	r := New(p, "raw/Data.CSV", info)
	assert.Equal(t, "Data.CSV", r.Name())
	assert.Equal(t, "raw", r.Dir())
	assert.Equal(t, "Data", r.Stem())
	assert.Equal(t, "csv", r.Ext())

	t.Run("OpenIsRestartable", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rc, err := r.Open()
			require.NoError(t, err)
			b, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, "hello", string(b))
		}
	})

	t.Run("DigestCache", func(t *testing.T) {
		_, ok := r.Digest("MD5")
		assert.False(t, ok)
		r.StoreDigest("MD5", "abc")
		d, ok := r.Digest("MD5")
		assert.True(t, ok)
		assert.Equal(t, "abc", d)
	})

	t.Run("RootFileHasEmptyDir", func(t *testing.T) {
		assert.Equal(t, "", New(p, "Data.CSV", info).Dir())
	})
}

func TestOpenRange(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.bin")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o644))
	info, err := os.Stat(p)
	require.NoError(t, err)
	r := New(p, "r.bin", info)

	rc, err := r.OpenRange(4, 3)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "456", string(b))
}
