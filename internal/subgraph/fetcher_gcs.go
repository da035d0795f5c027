package subgraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	errs "github.com/mrkhmath/mathgraph-backend/internal/pkg/errors"
)

// GCSFetcher pulls artifacts from a Cloud Storage bucket at
// `{prefix}{code}{ext}`. Deployments that mirror the artifact dataset into a
// bucket use this instead of the public HTTP store.
type GCSFetcher struct {
	bucket *storage.BucketHandle
	prefix string
	ext    string
}

func NewGCSFetcher(ctx context.Context, bucket, prefix, ext, credentialsFile string) (*GCSFetcher, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("gcs fetcher: bucket required")
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs fetcher: init client: %w", err)
	}

	return &GCSFetcher{
		bucket: client.Bucket(bucket),
		prefix: prefix,
		ext:    ext,
	}, nil
}

func (f *GCSFetcher) Fetch(ctx context.Context, code string) (io.ReadCloser, int64, error) {
	name := f.prefix + code + f.ext
	r, err := f.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, -1, fmt.Errorf("remote subgraph %s: %w", code, errs.ErrNotFound)
		}
		return nil, -1, fmt.Errorf("fetch %s: %v: %w", code, err, errs.ErrTransient)
	}
	return r, r.Attrs.Size, nil
}
