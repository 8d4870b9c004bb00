// Package report writes the artifacts of a run: the CSV report, the run
// metadata and the CycloneDX BOM.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/CZERTAINLY/csop/internal/bom"
	"github.com/CZERTAINLY/csop/internal/model"
)

// ErrWrite marks a failure to write an artifact.
var ErrWrite = errors.New("report write failed")

// CSVName is parser_output_<ts>.csv, qualified with the repository in CI.
func CSVName(md model.Metadata, ts int64) string {
	if md.IsCI && md.Repository != "" {
		return fmt.Sprintf("parser_output_circleci_%s_%d.csv", md.Repository, ts)
	}
	return fmt.Sprintf("parser_output_%d.csv", ts)
}

func MetadataName(ts int64) string {
	return fmt.Sprintf("parser_metadata_%d.json", ts)
}

func BOMName(ts int64) string {
	return fmt.Sprintf("parser_bom_%d.cdx.json", ts)
}

// ObjectKey is the storage key of file:
// <repository>/<commit>/<ts>[/<job>]/<parent dir>/<file name>.
func ObjectKey(md model.Metadata, ts int64, file string) string {
	parts := []string{md.Repository, md.Commit, strconv.FormatInt(ts, 10)}
	if md.Job != "" {
		parts = append(parts, md.Job)
	}
	dir := filepath.Base(filepath.Dir(file))
	if dir != "." && dir != string(filepath.Separator) {
		parts = append(parts, dir)
	}
	parts = append(parts, filepath.Base(file))
	return path.Join(parts...)
}

type Report struct {
	Timestamp int64
	Env       model.Metadata
	Findings  []model.Finding
	Metadata  Metadata
	BOM       *bom.Builder
}

// Paths are the written artifacts.
type Paths struct {
	CSV      string
	Metadata string
	BOM      string
}

func (p Paths) All() []string {
	return []string{p.CSV, p.Metadata, p.BOM}
}

type Emitter struct {
	dir       string
	validator Validator
}

func NewEmitter(dir string) (*Emitter, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Emitter{dir: dir, validator: v}, nil
}

// Emit writes all artifacts into the output directory, which is created when
// missing. Every failure wraps ErrWrite.
func (e *Emitter) Emit(r Report) (Paths, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	p := Paths{
		CSV:      filepath.Join(e.dir, CSVName(r.Env, r.Timestamp)),
		Metadata: filepath.Join(e.dir, MetadataName(r.Timestamp)),
		BOM:      filepath.Join(e.dir, BOMName(r.Timestamp)),
	}

	if err := create(p.CSV, func(w io.Writer) error { return WriteCSV(w, r.Findings) }); err != nil {
		return Paths{}, err
	}
	if err := create(p.Metadata, func(w io.Writer) error { return e.validator.WriteMetadata(w, r.Metadata) }); err != nil {
		return Paths{}, err
	}
	b := r.BOM
	if b == nil {
		b = bom.NewBuilder().AppendFindings(r.Findings...)
	}
	if err := create(p.BOM, b.AsJSON); err != nil {
		return Paths{}, err
	}
	return p, nil
}

func create(name string, write func(io.Writer) error) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %s: %w", ErrWrite, name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, name, err)
	}
	return nil
}
