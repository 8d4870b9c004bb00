package walk_test

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/CZERTAINLY/csop/internal/walk"
	"github.com/stretchr/testify/require"
)

func TestFS(t *testing.T) {
	t.Parallel()
	root := fstest.MapFS{
		"results_gosec.json":           {Data: []byte(`{"Issues":[]}`)},
		"gosec/results_nancy.json":     {Data: []byte(`{}`)},
		"deep/a/b/results_trivy.json":  {Data: []byte(`[]`)},
		"results_gosec.txt":            {Data: []byte("x")},
		"output_gosec.json":            {Data: []byte("{}")},
		".git/results_gitleaks.json":   {Data: []byte("{}")},
		"results_dir.json/placeholder": {Data: []byte("{}")},
	}

	var rels []string
	for entry, err := range walk.FS(t.Context(), root, "/in", walk.Pattern) {
		require.NoError(t, err)
		rels = append(rels, entry.Rel())
		require.Equal(t, filepath.Join("/in", entry.Rel()), entry.Path())
	}
	require.Equal(t, []string{
		"deep/a/b/results_trivy.json",
		"gosec/results_nancy.json",
		"results_gosec.json",
	}, rels)
}

func TestFS_Read(t *testing.T) {
	t.Parallel()
	root := fstest.MapFS{
		"results_gosec.json": {Data: []byte(`{"Issues":[]}`)},
	}
	var n int
	for entry, err := range walk.FS(t.Context(), root, "in", walk.Pattern) {
		require.NoError(t, err)
		b, err := walk.Read(entry)
		require.NoError(t, err)
		require.Equal(t, `{"Issues":[]}`, string(b))
		n++
	}
	require.Equal(t, 1, n)
}

func TestFS_BadPattern(t *testing.T) {
	t.Parallel()
	var errs int
	for entry, err := range walk.FS(t.Context(), fstest.MapFS{}, "in", "[") {
		require.Nil(t, entry)
		require.Error(t, err)
		errs++
	}
	require.Equal(t, 1, errs)
}

func TestFS_Break(t *testing.T) {
	t.Parallel()
	root := fstest.MapFS{
		"results_a.json": {Data: []byte("{}")},
		"results_b.json": {Data: []byte("{}")},
	}
	var n int
	for range walk.FS(t.Context(), root, "in", walk.Pattern) {
		n++
		break
	}
	require.Equal(t, 1, n)
}

func TestDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gosec"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gosec", "results_gosec.json"), []byte("{}"), 0o644))

	var paths []string
	for entry, err := range walk.Dir(t.Context(), dir, walk.Pattern) {
		require.NoError(t, err)
		paths = append(paths, entry.Path())
		b, err := walk.Read(entry)
		require.NoError(t, err)
		require.Equal(t, "{}", string(b))
	}
	require.Equal(t, []string{filepath.Join(dir, "gosec", "results_gosec.json")}, paths)
}

func TestDir_Missing(t *testing.T) {
	t.Parallel()
	var errs int
	for _, err := range walk.Dir(t.Context(), filepath.Join(t.TempDir(), "nope"), walk.Pattern) {
		require.ErrorIs(t, err, os.ErrNotExist)
		errs++
	}
	require.Equal(t, 1, errs)
}

// growingEntry reports a size smaller than its content, like a file appended to after the walk.
type growingEntry struct {
	statSize int64
	content  string
}

func (e growingEntry) Path() string { return "/in/results_gosec.json" }
func (e growingEntry) Rel() string  { return "results_gosec.json" }
func (e growingEntry) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(e.content)), nil
}
func (e growingEntry) Stat() (fs.FileInfo, error) {
	return fstest.MapFS{"f": {Data: make([]byte, e.statSize)}}.Stat("f")
}

func TestReadLimit(t *testing.T) {
	t.Parallel()
	var tcs = []struct {
		scenario string
		given    growingEntry
		then     error
	}{
		{"fits", growingEntry{statSize: 4, content: "0123"}, nil},
		{"too big", growingEntry{statSize: 10, content: "0123456789"}, walk.ErrTooBig},
		{"grew while reading", growingEntry{statSize: 4, content: "0123456789"}, walk.ErrTooBig},
	}
	for _, tc := range tcs {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			b, err := walk.ReadLimit(tc.given, 8)
			if tc.then != nil {
				require.ErrorIs(t, err, tc.then)
				require.Nil(t, b)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.given.content, string(b))
		})
	}
}
