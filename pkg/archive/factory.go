package archive

import (
	"context"
	"fmt"
)

// BackendType selects an archive backend.
type BackendType string

const (
	BackendFS  BackendType = "fs"
	BackendS3  BackendType = "s3"
	BackendGCS BackendType = "gcs"
)

// Config selects and configures the archive backend.
type Config struct {
	Backend BackendType
	// Dir is the filesystem root for the fs backend.
	Dir string
	S3  S3Config
	GCS GCSConfig
}

// New builds the configured backend. The gcs backend requires a
// binary built with the gcp tag.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendFS, "":
		dir := cfg.Dir
		if dir == "" {
			dir = "data/archive"
		}
		return NewFS(dir)
	case BackendS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 archive backend needs a bucket")
		}
		return NewS3(ctx, cfg.S3)
	case BackendGCS:
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("gcs archive backend needs a bucket")
		}
		return newGCS(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported archive backend %q", cfg.Backend)
	}
}
