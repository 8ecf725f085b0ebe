package archive

import (
	"context"
	"fmt"
)

// BackendType selects the blob storage backend.
type BackendType string

const (
	BackendFS  BackendType = "fs"
	BackendS3  BackendType = "s3"
	BackendGCS BackendType = "gcs"
)

// Options configures NewStore across backends. Only the fields the chosen
// backend cares about are read.
type Options struct {
	Type     BackendType
	Dir      string // fs
	Bucket   string // s3, gcs
	Region   string // s3
	Endpoint string // s3 (MinIO/LocalStack)
	Prefix   string // s3, gcs
}

// NewStore creates a blob store for the chosen backend. An empty type
// defaults to the filesystem.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case BackendFS, "":
		return NewFSStore(opts.Dir)
	case BackendS3:
		if opts.Bucket == "" {
			return nil, fmt.Errorf("archive: s3 backend requires a bucket")
		}
		region := opts.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   opts.Bucket,
			Region:   region,
			Endpoint: opts.Endpoint,
			Prefix:   opts.Prefix,
		})
	case BackendGCS:
		if opts.Bucket == "" {
			return nil, fmt.Errorf("archive: gcs backend requires a bucket")
		}
		return newGCSStore(ctx, opts)
	default:
		return nil, fmt.Errorf("archive: unsupported backend %q", opts.Type)
	}
}
