//go:build gcp

package archive

import "context"

func newGCS(ctx context.Context, cfg GCSConfig) (Backend, error) {
	return NewGCS(ctx, cfg)
}
