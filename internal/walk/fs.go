// Package walk discovers scanner reports in a directory tree.
package walk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern matches the reports the scanners write into the input directory.
const Pattern = "**/results_*.json"

// MaxSize is the largest report Read accepts.
const MaxSize = 256 << 20

var ErrTooBig = errors.New("report too big")

// Dir is a convenience wrapper around FS for a directory on disk, which is
// opened as os.Root so the walk can't escape it.
func Dir(ctx context.Context, dir, pattern string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		root, err := os.OpenRoot(dir)
		if err != nil {
			yield(nil, err)
			return
		}
		defer root.Close()
		for entry, err := range FS(ctx, root.FS(), root.Name(), pattern) {
			if !yield(entry, err) {
				return
			}
		}
	}
}

// FS recursively walks root in lexical order and returns a handle for every
// regular file whose relative path matches pattern. An invalid pattern is
// returned as the only error. Version control directories are skipped and
// symlinks are not followed.
func FS(ctx context.Context, root fs.FS, name, pattern string) iter.Seq2[Entry, error] {
	if root == nil {
		panic("root is nil")
	}

	return func(yield func(Entry, error) bool) {
		if !doublestar.ValidatePattern(pattern) {
			yield(nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern))
			return
		}

		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil {
				if !yield(fsEntry{root: root, abspath: filepath.Join(name, path), path: path, infoErr: err}, err) {
					return fs.SkipAll
				}
				return nil
			}
			if d.IsDir() {
				if path != "." && (d.Name() == ".git" || d.Name() == ".hg" || d.Name() == ".svn") {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if ok, _ := doublestar.Match(pattern, path); !ok {
				return nil
			}

			var entry = fsEntry{
				root:    root,
				abspath: filepath.Join(name, path),
				path:    path,
			}
			info, err := d.Info()
			if err != nil {
				entry.infoErr = err
			} else {
				entry.info = info
			}
			if !yield(entry, err) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(root, ".", fn)
	}
}

// Read returns the content of entry. Files bigger than MaxSize are an error.
func Read(e Entry) ([]byte, error) {
	return ReadLimit(e, MaxSize)
}

// ReadLimit returns the content of entry or ErrTooBig when it has more than
// limit bytes, including a file which grew after it was found.
func ReadLimit(e Entry, limit int64) ([]byte, error) {
	info, err := e.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%s: %w: file size %d exceeds %d bytes", e.Path(), ErrTooBig, info.Size(), limit)
	}
	f, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%s: %w: file grew beyond %d bytes while reading", e.Path(), ErrTooBig, limit)
	}
	return b, nil
}

// fsEntry implements Entry for a filesystem
// it uses root.Open to open the file
type fsEntry struct {
	root    fs.FS
	abspath string
	path    string
	info    fs.FileInfo
	infoErr error
}

func (e fsEntry) Path() string {
	return e.abspath
}

func (e fsEntry) Rel() string {
	return e.path
}

func (e fsEntry) Open() (io.ReadCloser, error) {
	if e.infoErr != nil {
		return nil, e.infoErr
	}
	return e.root.Open(e.path)
}

func (e fsEntry) Stat() (fs.FileInfo, error) {
	return e.info, e.infoErr
}
