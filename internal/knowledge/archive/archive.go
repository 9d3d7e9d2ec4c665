// Package archive stores original uploads in object storage so asynchronous
// ingestion and reprocessing can replay the exact bytes that were uploaded.
package archive

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/minio/minio-go/v7"
)

// Store archives uploads into one bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New returns a Store writing into the given bucket.
func New(client *minio.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// ObjectPath builds the canonical object path for a document's original
// file: collection/document id/file name.
func ObjectPath(collectionName, documentID, fileName string) string {
	return fmt.Sprintf("%s/%s/%s", collectionName, documentID, fileName)
}

// Upload stores the stream under objectPath. The content type is derived
// from the file extension.
func (s *Store) Upload(ctx context.Context, objectPath string, r io.Reader, size int64) error {
	contentType := mime.TypeByExtension(filepath.Ext(objectPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object to MinIO: %w", err)
	}
	return nil
}

// Fetch opens the archived object for reading. The caller closes it.
func (s *Store) Fetch(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object from MinIO: %w", err)
	}
	return obj, nil
}

// Remove deletes an archived object once its owning document is gone.
func (s *Store) Remove(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object from MinIO: %w", err)
	}
	return nil
}
