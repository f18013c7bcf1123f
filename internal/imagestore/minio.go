package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
)

// Compile-time interface check.
var _ Store = (*Minio)(nil)

// Minio stores images in a MinIO or S3-compatible bucket.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinio creates a MinIO-backed image store. prefix is prepended to all
// object keys (e.g. "images/").
func NewMinio(client *minio.Client, bucket, prefix string) *Minio {
	return &Minio{client: client, bucket: bucket, prefix: prefix}
}

// Save uploads the image and returns its object key as the handle.
func (m *Minio) Save(ctx context.Context, data []byte, name string) (string, error) {
	key := path.Join(m.prefix, name+".jpg")
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("imagestore: put %s/%s: %w", m.bucket, key, err)
	}
	return key, nil
}
