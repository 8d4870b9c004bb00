package model

import (
	"context"
	"io"
)

// Uploader publishes a single document, e.g. a BOM to a BOM repository.
type Uploader interface {
	Upload(ctx context.Context, raw []byte) error
}

// ObjectUploader stores content under a key in an object storage.
type ObjectUploader interface {
	UploadObject(ctx context.Context, key string, body io.Reader) error
}
