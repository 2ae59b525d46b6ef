//go:build gcp

package evidence

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// GCSConfig configures the GCS uploader.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSUploader stores evidence archives in a GCS bucket. Built only with
// the gcp tag to keep the default binary free of the GCP SDK.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSUploader builds an uploader using application default credentials.
func NewGCSUploader(ctx context.Context, cfg GCSConfig) (*GCSUploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindConfig, "create gcs client", err)
	}
	return &GCSUploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload writes the file under prefix+key and returns its gs:// location.
func (u *GCSUploader) Upload(ctx context.Context, path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", contracts.WrapError(contracts.KindTransientIO, "read evidence pack", err)
	}
	defer f.Close()

	objectKey := u.prefix + key
	w := u.client.Bucket(u.bucket).Object(objectKey).NewWriter(ctx)
	w.ContentType = contentType(path)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", contracts.WrapError(contracts.KindTransientIO, "upload evidence pack", err)
	}
	if err := w.Close(); err != nil {
		return "", contracts.WrapError(contracts.KindTransientIO, "finish evidence upload", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, objectKey), nil
}
