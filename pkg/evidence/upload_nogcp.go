//go:build !gcp

package evidence

import (
	"context"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// GCSConfig configures the GCS uploader.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSUploader is unavailable without the gcp build tag.
func NewGCSUploader(_ context.Context, _ GCSConfig) (Uploader, error) {
	return nil, contracts.Errorf(contracts.KindConfig,
		"gcs upload requires a binary built with the gcp tag")
}
