// Package upload publishes run artifacts to an S3 compatible object storage
// and the BOM to a BOM repository.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/CZERTAINLY/csop/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	Bucket string
	Region string
	// Endpoint of a S3 compatible storage, which is addressed path-style.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 uses static credentials when an access key is set and the default
// credential chain otherwise.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name must be set")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3) UploadObject(ctx context.Context, key string, body io.Reader) error {
	// the SDK needs a seekable body to sign the payload over plain HTTP
	rs, ok := body.(io.ReadSeeker)
	if !ok {
		b, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		rs = bytes.NewReader(b)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   rs,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	slog.DebugContext(ctx, "object uploaded", "bucket", s.bucket, "key", key)
	return nil
}

// Files uploads every file under the key returned by keyFn. All files are
// attempted, failures are joined.
func Files(ctx context.Context, up model.ObjectUploader, keyFn func(path string) string, paths ...string) error {
	var errs []error
	for _, path := range paths {
		if err := file(ctx, up, keyFn(path), path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func file(ctx context.Context, up model.ObjectUploader, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return up.UploadObject(ctx, key, f)
}
