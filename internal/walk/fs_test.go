package walk_test

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/Herald/internal/walk"
)

func TestFS(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"b.vader":          {Data: []byte("b")},
		"a.vader":          {Data: []byte("a")},
		"notes.txt":        {Data: []byte("n")},
		"sub/c.vader":      {Data: []byte("c")},
		"sub/deep/d.vader": {Data: []byte("d")},
		"link.vader":       {Mode: os.ModeSymlink},
	}

	var got []string
	for p, err := range walk.FS(t.Context(), fsys, "tests", "*.vader") {
		require.NoError(t, err)
		got = append(got, p)
	}
	require.Equal(t, []string{
		filepath.Join("tests", "a.vader"),
		filepath.Join("tests", "b.vader"),
		filepath.Join("tests", "sub", "c.vader"),
		filepath.Join("tests", "sub", "deep", "d.vader"),
	}, got)
}

func TestFSBreak(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"a.vader": {},
		"b.vader": {},
	}
	n := 0
	for range walk.FS(t.Context(), fsys, ".", "*") {
		n++
		break
	}
	require.Equal(t, 1, n)
}

func TestFSBadPattern(t *testing.T) {
	t.Parallel()
	for _, err := range walk.FS(t.Context(), fstest.MapFS{}, ".", "[") {
		require.Error(t, err)
	}
}

func TestRoots(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "x.vader"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "y.txt"), nil, 0o644))

	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	var got []string
	for p, err := range walk.Roots(t.Context(), "*.vader", root) {
		require.NoError(t, err)
		got = append(got, p)
	}
	require.Equal(t, []string{filepath.Join(dir, "sub", "x.vader")}, got)
}
