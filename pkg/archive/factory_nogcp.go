//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func newGCS(context.Context, GCSConfig) (Backend, error) {
	return nil, fmt.Errorf("gcs archive backend is not enabled in this build (use -tags gcp)")
}
