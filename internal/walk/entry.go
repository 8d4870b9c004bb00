package walk

import (
	"io"
	"io/fs"
)

// Entry is a regular file found by a walk.
type Entry interface {
	// Path is the file path prefixed with the name of the walked tree.
	Path() string
	// Rel is the slash separated path relative to the walked tree.
	Rel() string
	Open() (io.ReadCloser, error)
	Stat() (fs.FileInfo, error)
}
